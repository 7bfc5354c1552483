package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixID is the 6-byte id of every stored document. It is BSON binary with
// a custom subtype in Mongo and a 10-character Crockford Base32 string in
// JSON and URLs.
type SixID [6]byte

const (
	sixIDSubtype   byte = 0x80
	sixIDStringLen      = 10
)

var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// Crockford decoding accepts lowercase and the usual look-alikes.
var crockfordNormalizer = strings.NewReplacer("O", "0", "I", "1", "L", "1", "-", "", " ", "")

var errBadSixID = errors.New("invalid SixID")

// NewSixIDHook lets tests force the ids NewSixID returns. A hook returning
// false falls back to random generation.
var NewSixIDHook func() (id SixID, override bool)

// NewSixID returns a random SixID.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return id
}

// ParseSixID parses the string form. The empty string is the zero SixID.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}
	s = crockfordNormalizer.Replace(strings.ToUpper(s))
	if len(s) != sixIDStringLen {
		return SixID{}, fmt.Errorf("%w: want %d characters, got %d", errBadSixID, sixIDStringLen, len(s))
	}
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != len(SixID{}) {
		return SixID{}, fmt.Errorf("%w: %q", errBadSixID, s)
	}
	var id SixID
	copy(id[:], raw)
	return id, nil
}

func (u SixID) String() string {
	return crockford.EncodeToString(u[:])
}

// IsZero reports whether the SixID is unset.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalBSONValue encodes the SixID as binary with subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.Binary, bsoncore.AppendBinary(nil, sixIDSubtype, u[:]), nil
}

// UnmarshalBSONValue decodes binary subtype 0x80. Null decodes to the zero
// SixID.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	*u = SixID{}
	switch t {
	case bsontype.Null, bsontype.Undefined:
		return nil
	case bsontype.Binary:
	default:
		return fmt.Errorf("%w: BSON type %s is not binary", errBadSixID, t)
	}
	subtype, bin, _, ok := bsoncore.ReadBinary(data)
	if !ok {
		return fmt.Errorf("%w: truncated BSON binary", errBadSixID)
	}
	if subtype != sixIDSubtype || len(bin) != len(SixID{}) {
		return fmt.Errorf("%w: BSON subtype %#x with %d bytes", errBadSixID, subtype, len(bin))
	}
	copy(u[:], bin)
	return nil
}
