package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Stringify renders v the way PRINT and string concatenation do: the
// canonical, human-readable text of a value. Numbers print without
// trailing zeros (matching the %g style the original C host uses);
// containers print their elements recursively.
func Stringify(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindObj:
		return stringifyObj(v.obj)
	}
	return ""
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func stringifyObj(o Obj) string {
	switch v := o.(type) {
	case *String:
		return v.Chars
	case *List:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			if s, ok := item.obj.(*String); ok && item.kind == KindObj {
				fmt.Fprintf(&b, "%q", s.Chars)
			} else {
				b.WriteString(Stringify(item))
			}
		}
		b.WriteByte(']')
		return b.String()
	case *Dict:
		var b strings.Builder
		b.WriteByte('{')
		first := true
		v.Table.Each(func(key *String, val Value) {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%q: %s", key.Chars, Stringify(val))
		})
		b.WriteByte('}')
		return b.String()
	case *Function:
		if v.Name == nil {
			return "<script>"
		}
		return fmt.Sprintf("<fun %s>", v.Name.Chars)
	case *Closure:
		return stringifyObj(v.Function)
	case *Native:
		return fmt.Sprintf("<native %s>", v.Name)
	case *Class:
		return v.Name.Chars
	case *Instance:
		return fmt.Sprintf("<%s instance>", v.Class.Name.Chars)
	case *BoundMethod:
		return stringifyObj(v.Method)
	case *Upvalue:
		return "<upvalue>"
	}
	return "<obj>"
}
