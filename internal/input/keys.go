// Package input provides the surfaces keystrokes are captured from: a local
// terminal and a websocket bridge for browser pages.
package input

import "unicode/utf8"

// Key names follow the values browsers report in KeyboardEvent.key.
const (
	KeyEnter      = "Enter"
	KeyBackspace  = "Backspace"
	KeyTab        = "Tab"
	KeyEscape     = "Escape"
	KeyDelete     = "Delete"
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyHome       = "Home"
	KeyEnd        = "End"
)

const (
	ctrlC = 0x03
	ctrlD = 0x04
	esc   = 0x1b
	del   = 0x7f
)

var csiKeys = map[string]string{
	"A":  KeyArrowUp,
	"B":  KeyArrowDown,
	"C":  KeyArrowRight,
	"D":  KeyArrowLeft,
	"H":  KeyHome,
	"F":  KeyEnd,
	"1~": KeyHome,
	"4~": KeyEnd,
	"3~": KeyDelete,
}

// keyDecoder turns terminal input bytes into key names. It carries state
// across chunks so "\r\n" yields a single Enter.
type keyDecoder struct {
	lastCR bool
}

// decode returns the keys found in b. stop is true when b contains Ctrl-C or
// Ctrl-D; keys after it are discarded.
func (d *keyDecoder) decode(b []byte) (keys []string, stop bool) {
	for i := 0; i < len(b); {
		c := b[i]

		if c == '\n' && d.lastCR {
			d.lastCR = false
			i++
			continue
		}
		d.lastCR = c == '\r'

		switch {
		case c == ctrlC || c == ctrlD:
			return keys, true
		case c == '\r' || c == '\n':
			keys = append(keys, KeyEnter)
			i++
		case c == '\t':
			keys = append(keys, KeyTab)
			i++
		case c == del || c == '\b':
			keys = append(keys, KeyBackspace)
			i++
		case c == esc:
			key, n := decodeEscape(b[i:])
			if key != "" {
				keys = append(keys, key)
			}
			i += n
		case c < 0x20:
			i++
		default:
			r, size := utf8.DecodeRune(b[i:])
			if r != utf8.RuneError {
				keys = append(keys, string(r))
			}
			i += size
		}
	}
	return keys, false
}

// decodeEscape reads an escape sequence at the start of b and returns its key
// name and length. Unknown sequences are consumed and yield "".
func decodeEscape(b []byte) (string, int) {
	if len(b) < 2 || (b[1] != '[' && b[1] != 'O') {
		return KeyEscape, 1
	}

	// CSI parameters are digits and ';', terminated by a byte in 0x40-0x7e.
	for j := 2; j < len(b); j++ {
		c := b[j]
		if (c >= '0' && c <= '9') || c == ';' {
			continue
		}
		if c >= 0x40 && c <= 0x7e {
			return csiKeys[string(b[2:j+1])], j + 1
		}
		break
	}
	return KeyEscape, 1
}
