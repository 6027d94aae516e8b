package wire

import "github.com/rotisserie/eris"

var (
	ErrEndOfBuffer   = eris.New("wire: read past end of buffer")
	ErrTooLarge      = eris.New("wire: length exceeds limit")
	ErrInvalidVarint = eris.New("wire: invalid varint encoding")
	ErrPosition      = eris.New("wire: position out of range")
	ErrInvalidString = eris.New("wire: string is not valid utf-8")
)
