package filterlist

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/abpkit/abpfilter/rules"
)

// RuleStorage combines several rule lists with unique identifiers.  It can be
// scanned using a [RuleStorageScanner].
//
// Rule index is an int64 value that actually consists of two int32 values: one
// is the rule list identifier, and the second is the offset of the rule inside
// of that list.
type RuleStorage struct {
	// listsMap is a map with rule lists.  map key is the list ID.
	listsMap map[int]RuleList

	// lists is an array of rules lists which can be accessed using this
	// RuleStorage.
	lists []RuleList
}

// NewRuleStorage creates a new instance of the RuleStorage and validates the
// list of rules specified.
func NewRuleStorage(lists []RuleList) (s *RuleStorage, err error) {
	listsMap := make(map[int]RuleList, len(lists))
	for i, list := range lists {
		id := list.GetID()
		if _, ok := listsMap[id]; ok {
			return nil, fmt.Errorf("list at index %d: duplicate list id: %d", i, id)
		}

		listsMap[id] = list
	}

	return &RuleStorage{
		listsMap: listsMap,
		lists:    lists,
	}, nil
}

// Lists returns the lists in the order they were given.
func (s *RuleStorage) Lists() (lists []RuleList) {
	return s.lists
}

// List returns the list with the given identifier.
func (s *RuleStorage) List(id int) (l RuleList, ok bool) {
	l, ok = s.listsMap[id]

	return l, ok
}

// NewRuleStorageScanner creates a new instance of RuleStorageScanner.  It can
// be used to read and parse all the storage contents.  If tbl is not nil, the
// rules are compiled through it.
func (s *RuleStorage) NewRuleStorageScanner(tbl *rules.Table) (sc *RuleStorageScanner) {
	scanners := make([]*RuleScanner, 0, len(s.lists))
	for _, list := range s.lists {
		scanner := list.NewScanner()
		if tbl != nil {
			scanner.SetTable(tbl)
		}

		scanners = append(scanners, scanner)
	}

	return &RuleStorageScanner{
		Scanners: scanners,
	}
}

// Close closes the storage instance.
func (s *RuleStorage) Close() (err error) {
	if len(s.lists) == 0 {
		return nil
	}

	var errs []error
	for _, l := range s.lists {
		err = l.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Annotate(errors.Join(errs...), "closing rule lists: %w")
}

// RuleStorageScanner scans multiple RuleScanner instances.  The rule index is
// built from the rule offset in the list and the list ID.
type RuleStorageScanner struct {
	// Scanners is the list of list scanners backing this combined scanner.
	Scanners []*RuleScanner

	// currentScannerIdx is the index of the current scanner.
	currentScannerIdx int
}

// Scan advances to the next rule of the current list or of the next lists.
func (s *RuleStorageScanner) Scan() (ok bool) {
	for s.currentScannerIdx < len(s.Scanners) {
		if s.Scanners[s.currentScannerIdx].Scan() {
			return true
		}

		s.currentScannerIdx++
	}

	return false
}

// Rule returns the last scanned rule and its storage index.
func (s *RuleStorageScanner) Rule() (r *rules.Rule, storageIdx int64) {
	if s.currentScannerIdx >= len(s.Scanners) {
		return nil, 0
	}

	sc := s.Scanners[s.currentScannerIdx]
	r, idx := sc.Rule()
	if r == nil {
		return nil, 0
	}

	return r, RuleListIdxToStorageIdx(sc.ListID(), idx)
}

// Err returns the read errors of all scanners.
func (s *RuleStorageScanner) Err() (err error) {
	var errs []error
	for _, sc := range s.Scanners {
		if err = sc.Err(); err != nil {
			errs = append(errs, fmt.Errorf("list %d: %w", sc.ListID(), err))
		}
	}

	return errors.Join(errs...)
}

// RuleListIdxToStorageIdx converts a pair of the list identifier and the rule
// offset to a single storage index.
func RuleListIdxToStorageIdx(listID, ruleIdx int) (storageIdx int64) {
	return int64(listID)<<32 | int64(ruleIdx)&0xFFFFFFFF
}

// StorageIdxToRuleListIdx converts the storage index to the list identifier
// and the offset of the rule in the list.
func StorageIdxToRuleListIdx(storageIdx int64) (listID, ruleIdx int) {
	return int(storageIdx >> 32), int(int32(storageIdx))
}
