package rules

import "sync"

// Table deduplicates compiled rules by their text, so that every text has
// exactly one *Rule.  It is safe for concurrent use.
type Table struct {
	// mu protects rules.
	mu *sync.Mutex

	// rules maps the rule text to the rule compiled from it.
	rules map[string]*Rule
}

// NewTable returns a new empty *Table.
func NewTable() (t *Table) {
	return &Table{
		mu:    &sync.Mutex{},
		rules: map[string]*Rule{},
	}
}

// Compile returns the rule for text, compiling it on the first call.
func (t *Table) Compile(text string) (r *Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rules[text]
	if !ok {
		r = Compile(text)
		t.rules[text] = r
	}

	return r
}

// Intern returns the known rule with the text of r, storing r if there is
// none.
func (t *Table) Intern(r *Rule) (known *Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	known, ok := t.rules[r.Text]
	if !ok {
		known = r
		t.rules[r.Text] = r
	}

	return known
}

// Lookup returns the rule previously compiled from text, if any.
func (t *Table) Lookup(text string) (r *Rule, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok = t.rules[text]

	return r, ok
}

// Forget removes the rule compiled from text.  The next call to
// [Table.Compile] returns a new instance.
func (t *Table) Forget(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.rules, text)
}

// Len returns the number of known rule texts.
func (t *Table) Len() (n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.rules)
}
