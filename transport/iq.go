// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/xml"
	"errors"
	"io"

	"github.com/google/uuid"
	"mellium.im/xmpp/stanza"
)

// ErrEmptyError is returned by DecodeIQ when an error IQ does not carry an
// error payload.
var ErrEmptyError = errors.New("transport: error IQ without error element")

// NewID returns a new random stanza ID.
func NewID() string {
	return uuid.NewString()
}

// DecodeIQ reads an IQ from r and decodes its payload into v.
// If the IQ is of type error the stanza error is returned instead.
// A nil v skips the payload.
func DecodeIQ(r xml.TokenReader, v interface{}) error {
	d := xml.NewTokenDecoder(r)

	var start xml.StartElement
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		if s, ok := tok.(xml.StartElement); ok {
			start = s
			break
		}
	}

	var isError bool
	for _, attr := range start.Attr {
		if attr.Name.Local == "type" {
			isError = attr.Value == string(stanza.ErrorIQ)
			break
		}
	}

	for {
		tok, err := d.Token()
		switch {
		case err == io.EOF:
			if isError {
				return ErrEmptyError
			}
			return nil
		case err != nil:
			return err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			if isError {
				return ErrEmptyError
			}
			return nil
		case xml.StartElement:
			if isError {
				if t.Name.Local != "error" {
					if err := d.Skip(); err != nil {
						return err
					}
					continue
				}
				se := stanza.Error{}
				if err := d.DecodeElement(&se, &t); err != nil {
					return err
				}
				return se
			}
			if v == nil {
				return d.Skip()
			}
			return d.DecodeElement(v, &t)
		}
	}
}
