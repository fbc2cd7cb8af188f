package filterlist

import (
	"bufio"
	"io"
	"strings"

	"github.com/abpkit/abpfilter/rules"
)

// readerBufferSize is the size of the buffer used to read rule lists.
const readerBufferSize = 64 * 1024

// RuleScanner reads the rules of a list one by one.  Blank lines, comments and
// "[Adblock Plus x.y]" headers are skipped.  Invalid rules are returned, so
// that the caller can report them.
type RuleScanner struct {
	// reader reads the list.
	reader *bufio.Reader

	// compile compiles the text of a rule.
	compile func(text string) (r *rules.Rule)

	// err is the first read error other than io.EOF.
	err error

	// currentRule is the last scanned rule.
	currentRule *rules.Rule

	// listID is the identifier of the scanned list.
	listID int

	// currentPos is the offset of the line of currentRule.
	currentPos int

	// pos is the offset of the next line.
	pos int

	// done is true when the reader has been exhausted.
	done bool

	// ignoreCosmetic makes the scanner skip content rules.
	ignoreCosmetic bool
}

// NewRuleScanner returns a new *RuleScanner reading r.  listID is the
// identifier of the list.  If ignoreCosmetic is true, content rules are
// skipped.
func NewRuleScanner(r io.Reader, listID int, ignoreCosmetic bool) (s *RuleScanner) {
	return &RuleScanner{
		reader:         bufio.NewReaderSize(r, readerBufferSize),
		compile:        rules.Compile,
		listID:         listID,
		ignoreCosmetic: ignoreCosmetic,
	}
}

// SetTable makes s compile rules through tbl, so that the same text yields the
// same rule.
func (s *RuleScanner) SetTable(tbl *rules.Table) {
	s.compile = tbl.Compile
}

// ListID returns the identifier of the scanned list.
func (s *RuleScanner) ListID() (id int) {
	return s.listID
}

// Scan advances the scanner to the next rule.  It returns false when there are
// no more rules or a read error occurred, see [RuleScanner.Err].
func (s *RuleScanner) Scan() (ok bool) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.err = err

				return false
			}
		}

		lineStart := s.pos
		s.pos += len(line)

		text := strings.TrimSpace(line)
		if s.skip(text) {
			continue
		}

		s.currentRule = s.compile(text)
		s.currentPos = lineStart

		return true
	}

	return false
}

// Rule returns the last scanned rule and the offset of its line in the list.
func (s *RuleScanner) Rule() (r *rules.Rule, idx int) {
	return s.currentRule, s.currentPos
}

// Err returns the first read error, if any.
func (s *RuleScanner) Err() (err error) {
	return s.err
}

// skip returns true if the line with text is not a rule to return.  The
// skipped lines are never compiled.
func (s *RuleScanner) skip(text string) (ok bool) {
	return text == "" ||
		text[0] == '!' ||
		isHeader(text) ||
		(s.ignoreCosmetic && rules.IsContentText(text))
}

// isHeader returns true if text is a list header like "[Adblock Plus 2.0]".
func isHeader(text string) (ok bool) {
	return strings.HasPrefix(text, "[") &&
		strings.HasSuffix(text, "]") &&
		strings.Contains(strings.ToLower(text), "adblock")
}
