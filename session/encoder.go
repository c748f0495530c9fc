package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	recordFormatVersionCurrent = 1

	flagExtendOnActivity = 1 << 0
)

// Encode serializes r without its ID.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if len(r.IdentityID) > 255 {
		return nil, errors.New("identityID too long")
	}
	buf.WriteByte(byte(len(r.IdentityID)))
	buf.WriteString(r.IdentityID)

	buf.Write(r.TokenHash[:])

	for _, ts := range []time.Time{r.CreatedAt, r.LastActive, r.LastSeen} {
		if err := binary.Write(&buf, binary.BigEndian, unixNano(ts)); err != nil {
			return nil, err
		}
	}

	if r.TimeoutMinutes < 0 || r.TimeoutMinutes > 65535 {
		return nil, errors.New("timeout out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(r.TimeoutMinutes)); err != nil {
		return nil, err
	}

	var flags byte
	if r.ExtendOnActivity {
		flags |= flagExtendOnActivity
	}
	buf.WriteByte(flags)

	if len(r.Address) > 255 {
		return nil, errors.New("address too long")
	}
	buf.WriteByte(byte(len(r.Address)))
	buf.WriteString(r.Address)

	if len(r.UserAgent) > 65535 {
		return nil, errors.New("user agent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(r.UserAgent)

	return buf.Bytes(), nil
}

// Decode parses a payload produced by [Encode]. The returned ID is empty.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	r := &Record{}

	identity, err := readString8(reader)
	if err != nil {
		return nil, err
	}
	r.IdentityID = identity

	if _, err := io.ReadFull(reader, r.TokenHash[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*time.Time{&r.CreatedAt, &r.LastActive, &r.LastSeen} {
		var ns int64
		if err := binary.Read(reader, binary.BigEndian, &ns); err != nil {
			return nil, err
		}
		*dst = fromUnixNano(ns)
	}

	var timeout uint16
	if err := binary.Read(reader, binary.BigEndian, &timeout); err != nil {
		return nil, err
	}
	r.TimeoutMinutes = int(timeout)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.ExtendOnActivity = flags&flagExtendOnActivity != 0

	address, err := readString8(reader)
	if err != nil {
		return nil, err
	}
	r.Address = address

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	r.UserAgent = string(ua)

	return r, nil
}

func readString8(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
