package kind

import "strconv"

// Marshal appends the decimal kind number, as used in JSON numbers.
func (t *T) Marshal(dst []byte) []byte {
	return strconv.AppendUint(dst, uint64(t.K), 10)
}

// Unmarshal reads a decimal kind number from r and returns the remainder.
func (t *T) Unmarshal(r []byte) (rem []byte, err error) {
	i := 0
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	if i == 0 {
		return r, errKind("kind: expected digits")
	}
	v, err := strconv.ParseUint(string(r[:i]), 10, 16)
	if err != nil {
		return r, err
	}
	t.K = uint16(v)
	return r[i:], nil
}

type errKind string

func (e errKind) Error() string { return string(e) }

// Marshal renders the set as a minified JSON array of kind numbers.
func (s *S) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, k := range s.K {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = k.Marshal(dst)
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal reads a JSON array of kind numbers starting at r[0] == '[' and
// returns the remainder.
func (s *S) Unmarshal(r []byte) (rem []byte, err error) {
	for len(r) > 0 && isWS(r[0]) {
		r = r[1:]
	}
	if len(r) == 0 || r[0] != '[' {
		return r, errKind("kind: expected '['")
	}
	r = r[1:]
	for {
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		if len(r) == 0 {
			return r, errKind("kind: unterminated array")
		}
		if r[0] == ']' {
			rem = r[1:]
			return
		}
		k := New(0)
		if r, err = k.Unmarshal(r); err != nil {
			return r, err
		}
		s.K = append(s.K, k)
		for len(r) > 0 && isWS(r[0]) {
			r = r[1:]
		}
		if len(r) > 0 && r[0] == ',' {
			r = r[1:]
			continue
		}
	}
}

func isWS(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// Equals reports whether two sets contain the same kinds irrespective of
// order.
func (s *S) Equals(o *S) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, k := range s.K {
		if !o.Contains(k) {
			return false
		}
	}
	return true
}
