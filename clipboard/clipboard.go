// Package clipboard copies replies out of the terminal. The system clipboard
// is tried first; when there is none (ssh sessions, headless X) the text is
// sent to the terminal as an OSC 52 sequence instead.
package clipboard

import (
	"io"
	"os"

	cb "github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

// Terminal receives the OSC 52 fallback.
var Terminal io.Writer = os.Stderr

// Method reports how the last Copy got the text out.
type Method string

const (
	System   Method = "system"
	Sequence Method = "osc52"
)

func Read() (string, error) {
	return cb.ReadAll()
}

// Copy puts text on the clipboard and reports the method that worked.
func Copy(text string) (Method, error) {
	if !cb.Unsupported {
		if err := cb.WriteAll(text); err == nil {
			return System, nil
		}
	}
	if _, err := osc52.New(text).WriteTo(Terminal); err != nil {
		return "", err
	}
	return Sequence, nil
}
