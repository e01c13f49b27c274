package server

import (
	"github.com/mailru/easyjson/jlexer"
)

// unmarshalPoints parses [[lat, lon], ...] appending to result.
func unmarshalPoints(data []byte, result *[][2]float64) error {
	l := jlexer.Lexer{Data: data}

	l.Delim('[')
	for !l.IsDelim(']') {
		var point [2]float64
		l.Delim('[')
		point[0] = l.Float64()
		l.WantComma()
		point[1] = l.Float64()
		l.WantComma()
		l.Delim(']')
		l.WantComma()

		if l.Error() != nil {
			break
		}
		*result = append(*result, point)
	}
	l.Delim(']')
	l.Consumed()

	return l.Error()
}
