package packet

// Character classes used to validate ASCII field text.

// IsASCIIChar reports printable ASCII plus the line characters and NUL.
func IsASCIIChar(c byte) bool {
	return (c >= ' ' && c <= '~') || c == '\n' || c == '\r' || c == '\t' || c == 0
}

// IsPrintable reports characters allowed inside an ASCII token.
func IsPrintable(c byte) bool { return (c >= ' ' && c <= '~') || c == '\t' }

func IsLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func IsDigit(c byte) bool  { return c >= '0' && c <= '9' }

func IsASCIIString(s string) bool  { return all(s, IsASCIIChar) }
func IsLetterString(s string) bool { return s != "" && all(s, IsLetter) }

// IsUnsignedString reports one or more decimal digits.
func IsUnsignedString(s string) bool { return s != "" && all(s, IsDigit) }

// IsIntegerString reports an optionally signed decimal integer.
func IsIntegerString(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	return IsUnsignedString(s)
}

// IsNumberString reports a decimal number with optional fraction and exponent.
func IsNumberString(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	digits, dot := 0, false
	i := 0
scan:
	for ; i < len(s); i++ {
		switch c := s[i]; {
		case IsDigit(c):
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			break scan
		}
	}
	if digits == 0 {
		return false
	}
	if i == len(s) {
		return true
	}
	if s[i] != 'e' && s[i] != 'E' {
		return false
	}
	return IsIntegerString(s[i+1:])
}

func all(s string, fn func(byte) bool) bool {
	for i := 0; i < len(s); i++ {
		if !fn(s[i]) {
			return false
		}
	}
	return true
}
