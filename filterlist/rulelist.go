// Package filterlist contains the sources of filter rules: in-memory and file
// rule lists, the storage combining several lists, and a watcher reloading
// file lists on change.
package filterlist

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrClosed is returned when scanning a closed rule list.
const ErrClosed errors.Error = "rule list is closed"

// RuleList is a source of filter rules.
type RuleList interface {
	// GetID returns the rule list identifier.
	GetID() (id int)

	// NewScanner creates a new scanner that reads the list contents.
	NewScanner() (sc *RuleScanner)

	io.Closer
}

// StringRuleList is a rule list kept in memory.
type StringRuleList struct {
	// RulesText is the text of the list, one rule per line.
	RulesText string

	// ID is the rule list identifier.
	ID int

	// IgnoreCosmetic makes the scanners skip content rules.
	IgnoreCosmetic bool
}

// type check
var _ RuleList = (*StringRuleList)(nil)

// GetID implements the [RuleList] interface for *StringRuleList.
func (l *StringRuleList) GetID() (id int) {
	return l.ID
}

// NewScanner implements the [RuleList] interface for *StringRuleList.
func (l *StringRuleList) NewScanner() (sc *RuleScanner) {
	return NewRuleScanner(strings.NewReader(l.RulesText), l.ID, l.IgnoreCosmetic)
}

// Close implements the [io.Closer] interface for *StringRuleList.
func (l *StringRuleList) Close() (err error) {
	return nil
}

// FileRuleList is a rule list read from a file.  The file is kept open while
// the list is in use.
type FileRuleList struct {
	// mu protects file.
	mu *sync.Mutex

	// file is the open list file.  It is nil after Close.
	file *os.File

	// path is the path to the list file.
	path string

	// id is the rule list identifier.
	id int

	// ignoreCosmetic makes the scanners skip content rules.
	ignoreCosmetic bool
}

// type check
var _ RuleList = (*FileRuleList)(nil)

// NewFileRuleList opens the list file at path.
func NewFileRuleList(id int, path string, ignoreCosmetic bool) (l *FileRuleList, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rule list %d: %w", id, err)
	}

	return &FileRuleList{
		mu:             &sync.Mutex{},
		file:           f,
		path:           path,
		id:             id,
		ignoreCosmetic: ignoreCosmetic,
	}, nil
}

// GetID implements the [RuleList] interface for *FileRuleList.
func (l *FileRuleList) GetID() (id int) {
	return l.id
}

// Path returns the path to the list file.
func (l *FileRuleList) Path() (path string) {
	return l.path
}

// NewScanner implements the [RuleList] interface for *FileRuleList.  The
// scanner reads the file from the start.  The content must not be scanned by
// several scanners at once.
func (l *FileRuleList) NewScanner() (sc *RuleScanner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return NewRuleScanner(errReader{err: ErrClosed}, l.id, l.ignoreCosmetic)
	}

	_, err := l.file.Seek(0, io.SeekStart)
	if err != nil {
		return NewRuleScanner(errReader{err: err}, l.id, l.ignoreCosmetic)
	}

	return NewRuleScanner(l.file, l.id, l.ignoreCosmetic)
}

// Reopen opens the file at the list path again, for example after it has been
// replaced.
func (l *FileRuleList) Reopen() (err error) {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("reopening rule list %d: %w", l.id, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.file
	l.file = f
	if prev != nil {
		return prev.Close()
	}

	return nil
}

// Close implements the [io.Closer] interface for *FileRuleList.
func (l *FileRuleList) Close() (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err = l.file.Close()
	l.file = nil

	return err
}

// errReader is an [io.Reader] that always fails.
type errReader struct {
	err error
}

// type check
var _ io.Reader = errReader{}

// Read implements the [io.Reader] interface for errReader.
func (r errReader) Read(_ []byte) (n int, err error) {
	return 0, r.err
}
