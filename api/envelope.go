package api

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"feddfg"
)

// Field numbers of the Envelope message, see feddfg.proto.
const (
	fieldKind    = 1
	fieldSession = 2
	fieldPoints  = 3
	fieldPairs   = 4
	fieldScheme  = 5
	fieldKey     = 6
	fieldCipher  = 7
	fieldValues  = 8
	fieldLabels  = 9
)

const (
	fieldPairFrom = 1
	fieldPairTo   = 2
)

const (
	fieldLabelSlot = 1
	fieldLabelPair = 2
)

// MarshalMessage encodes a protocol message as an Envelope. Label entries
// are emitted in slot order so equal messages encode to equal bytes.
func MarshalMessage(msg *feddfg.Message) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(msg.Kind))
	if len(msg.Session) > 0 {
		buf = protowire.AppendTag(buf, fieldSession, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.Session)
	}
	for _, pt := range msg.Points {
		pb, err := pt.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encoding point: %w", err)
		}
		buf = protowire.AppendTag(buf, fieldPoints, protowire.BytesType)
		buf = protowire.AppendBytes(buf, pb)
	}
	for _, p := range msg.Pairs {
		buf = protowire.AppendTag(buf, fieldPairs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, appendPair(nil, p))
	}
	if msg.Scheme != "" {
		buf = protowire.AppendTag(buf, fieldScheme, protowire.BytesType)
		buf = protowire.AppendString(buf, string(msg.Scheme))
	}
	if len(msg.Key) > 0 {
		buf = protowire.AppendTag(buf, fieldKey, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.Key)
	}
	if len(msg.Cipher) > 0 {
		buf = protowire.AppendTag(buf, fieldCipher, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.Cipher)
	}
	if len(msg.Values) > 0 {
		var packed []byte
		for _, v := range msg.Values {
			packed = protowire.AppendVarint(packed, v)
		}
		buf = protowire.AppendTag(buf, fieldValues, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}
	if len(msg.Labels) > 0 {
		slots := make([]int, 0, len(msg.Labels))
		for slot := range msg.Labels {
			slots = append(slots, slot)
		}
		slices.Sort(slots)
		for _, slot := range slots {
			var lb []byte
			lb = protowire.AppendTag(lb, fieldLabelSlot, protowire.VarintType)
			lb = protowire.AppendVarint(lb, uint64(slot))
			lb = protowire.AppendTag(lb, fieldLabelPair, protowire.BytesType)
			lb = protowire.AppendBytes(lb, appendPair(nil, msg.Labels[slot]))
			buf = protowire.AppendTag(buf, fieldLabels, protowire.BytesType)
			buf = protowire.AppendBytes(buf, lb)
		}
	}
	return buf, nil
}

func appendPair(buf []byte, p feddfg.Pair) []byte {
	buf = protowire.AppendTag(buf, fieldPairFrom, protowire.BytesType)
	buf = protowire.AppendString(buf, string(p.From))
	buf = protowire.AppendTag(buf, fieldPairTo, protowire.BytesType)
	buf = protowire.AppendString(buf, string(p.To))
	return buf
}

// UnmarshalMessage decodes an Envelope. Unknown fields are skipped.
func UnmarshalMessage(data []byte) (*feddfg.Message, error) {
	msg := &feddfg.Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		takeVarint := func() (uint64, error) {
			if typ != protowire.VarintType {
				return 0, fmt.Errorf("envelope field %d: unexpected wire type %d", num, typ)
			}
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			data = data[m:]
			return v, nil
		}
		takeBytes := func() ([]byte, error) {
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("envelope field %d: unexpected wire type %d", num, typ)
			}
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
			return b, nil
		}

		switch num {
		case fieldKind:
			v, err := takeVarint()
			if err != nil {
				return nil, err
			}
			msg.Kind = feddfg.MsgKind(v)
		case fieldSession:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			msg.Session = append([]byte(nil), b...)
		case fieldPoints:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			pt := feddfg.NewPoint()
			if err := pt.UnmarshalBinary(b); err != nil {
				return nil, fmt.Errorf("decoding point %d: %w", len(msg.Points), err)
			}
			msg.Points = append(msg.Points, pt)
		case fieldPairs:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			p, err := consumePair(b)
			if err != nil {
				return nil, err
			}
			msg.Pairs = append(msg.Pairs, p)
		case fieldScheme:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			msg.Scheme = feddfg.Scheme(b)
		case fieldKey:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			msg.Key = append([]byte(nil), b...)
		case fieldCipher:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			msg.Cipher = append([]byte(nil), b...)
		case fieldValues:
			packed, err := takeBytes()
			if err != nil {
				return nil, err
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				msg.Values = append(msg.Values, v)
				packed = packed[m:]
			}
		case fieldLabels:
			b, err := takeBytes()
			if err != nil {
				return nil, err
			}
			slot, p, err := consumeLabel(b)
			if err != nil {
				return nil, err
			}
			if msg.Labels == nil {
				msg.Labels = make(map[int]feddfg.Pair)
			}
			msg.Labels[slot] = p
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return msg, nil
}

func consumePair(b []byte) (feddfg.Pair, error) {
	var p feddfg.Pair
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldPairFrom && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return p, protowire.ParseError(m)
			}
			p.From = feddfg.Activity(v)
			b = b[m:]
		case num == fieldPairTo && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return p, protowire.ParseError(m)
			}
			p.To = feddfg.Activity(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return p, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return p, nil
}

func consumeLabel(b []byte) (int, feddfg.Pair, error) {
	var slot uint64
	var p feddfg.Pair
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, p, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldLabelSlot && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, p, protowire.ParseError(m)
			}
			slot = v
			b = b[m:]
		case num == fieldLabelPair && typ == protowire.BytesType:
			pb, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return 0, p, protowire.ParseError(m)
			}
			var err error
			if p, err = consumePair(pb); err != nil {
				return 0, p, err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return 0, p, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return int(slot), p, nil
}
