package stamp

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/digitorus/pdf"
)

// serializeValue re-emits a parsed PDF value in PDF syntax. Values that
// were reached through an indirect reference are written back as that
// reference, so unchanged objects stay untouched in the original bytes.
func serializeValue(buf *bytes.Buffer, v pdf.Value) error {
	if ptr := v.GetPtr(); ptr.GetID() != 0 {
		fmt.Fprintf(buf, "%d 0 R", ptr.GetID())
		return nil
	}
	return serializeDirect(buf, v)
}

// serializeDirect writes the value inline, ignoring any indirection at
// the top level. Used for the object being rewritten itself.
func serializeDirect(buf *bytes.Buffer, v pdf.Value) error {
	switch v.Kind() {
	case pdf.Null:
		buf.WriteString("null")
	case pdf.Bool:
		if v.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case pdf.Integer:
		fmt.Fprintf(buf, "%d", v.Int64())
	case pdf.Real:
		buf.WriteString(formatNumber(v.Float64()))
	case pdf.Name:
		buf.WriteByte('/')
		buf.WriteString(v.Name())
	case pdf.String:
		buf.WriteByte('(')
		buf.WriteString(escapeString(v.RawString()))
		buf.WriteByte(')')
	case pdf.Array:
		buf.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := serializeValue(buf, v.Index(i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case pdf.Dict:
		buf.WriteString("<< ")
		for _, k := range v.Keys() {
			buf.WriteByte('/')
			buf.WriteString(k)
			buf.WriteByte(' ')
			if err := serializeValue(buf, v.Key(k)); err != nil {
				return err
			}
			buf.WriteByte(' ')
		}
		buf.WriteString(">>")
	case pdf.Stream:
		// Streams are always indirect; reaching one inline means the
		// reference bookkeeping above went wrong.
		return fmt.Errorf("cannot inline a stream object")
	default:
		return fmt.Errorf("unsupported pdf value kind %v", v.Kind())
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func escapeString(s string) string {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', ')', '\\':
			out.WriteByte('\\')
			out.WriteByte(c)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// incrementalWriter appends an update section: new and replaced objects,
// a classic cross-reference table and a trailer chaining to the previous
// one. The original bytes are preserved verbatim as a prefix.
type incrementalWriter struct {
	out     bytes.Buffer
	offsets map[int]int64 // object number -> byte offset
	nextObj int
}

func newIncrementalWriter(original []byte, nextObj int) *incrementalWriter {
	w := &incrementalWriter{
		offsets: make(map[int]int64),
		nextObj: nextObj,
	}
	w.out.Write(original)
	if len(original) > 0 && original[len(original)-1] != '\n' {
		w.out.WriteByte('\n')
	}
	return w
}

// addObject writes a complete indirect object and returns its number.
func (w *incrementalWriter) addObject(body []byte) int {
	num := w.nextObj
	w.nextObj++
	w.writeObject(num, body)
	return num
}

// replaceObject rewrites an existing object number with a new body.
func (w *incrementalWriter) replaceObject(num int, body []byte) {
	w.writeObject(num, body)
}

func (w *incrementalWriter) writeObject(num int, body []byte) {
	w.offsets[num] = int64(w.out.Len())
	fmt.Fprintf(&w.out, "%d 0 obj\n", num)
	w.out.Write(body)
	w.out.WriteString("\nendobj\n")
}

// addStream writes a stream object with the given dictionary entries
// (without Length, which is added here).
func (w *incrementalWriter) addStream(dict string, data []byte) int {
	body := fmt.Sprintf("<< %s /Length %d >>\nstream\n", dict, len(data))
	var buf bytes.Buffer
	buf.WriteString(body)
	buf.Write(data)
	buf.WriteString("\nendstream")
	return w.addObject(buf.Bytes())
}

// finish writes the xref section and trailer. rootID references the
// document catalog, prevXref the byte offset of the previous xref
// section.
func (w *incrementalWriter) finish(rootID int, prevXref int64) []byte {
	xrefStart := int64(w.out.Len())

	nums := make([]int, 0, len(w.offsets))
	for n := range w.offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	w.out.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(&w.out, "%d %d\n", nums[i], j-i+1)
		for _, n := range nums[i : j+1] {
			fmt.Fprintf(&w.out, "%010d %05d n \n", w.offsets[n], 0)
		}
		i = j + 1
	}

	fmt.Fprintf(&w.out, "trailer\n<< /Size %d /Root %d 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		w.nextObj, rootID, prevXref, xrefStart)

	return w.out.Bytes()
}

// lastStartXref locates the startxref offset of the current last
// revision by scanning backwards from the end of the file.
func lastStartXref(data []byte) (int64, error) {
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("startxref not found")
	}
	rest := tail[idx+len("startxref"):]
	fields := bytes.Fields(rest)
	if len(fields) == 0 {
		return 0, fmt.Errorf("startxref offset missing")
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref offset: %w", err)
	}
	return off, nil
}
