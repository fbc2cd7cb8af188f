package rules

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	maskAllowing       = "@@"
	rewriteResourceTag = "abp-resource:"
)

var (
	// reContent matches content rules: the domain list, the type mark, and
	// the body.
	reContent = regexp.MustCompile(`^([^/*|@"!]*?)#([@?$])?#(.+)$`)

	// reOptions matches the options of a URL rule at the end of the text.
	reOptions = regexp.MustCompile(`\$(~?[\w-]+(?:=[^,]*)?(?:,~?[\w-]+(?:=[^,]*)?)*)$`)

	// reInvalidCSP matches the CSP directives which may not be injected.
	reInvalidCSP = regexp.MustCompile(
		`(?i)(?:;|^) ?(?:base-uri|referrer|report-to|report-uri|upgrade-insecure-requests)\b`,
	)
)

// Compile parses one line of filter text.  Text is expected to be normalized.
// Compile never fails: text which cannot be parsed yields a rule of
// [KindInvalid] with the reason set.  Empty text and comments yield a rule of
// [KindComment].
func Compile(text string) (r *Rule) {
	if text == "" || text[0] == '!' {
		return newRule(text, KindComment, "", 0)
	}

	if strings.IndexByte(text, '#') != -1 {
		if m := reContent.FindStringSubmatch(text); m != nil {
			return compileContent(text, m[1], m[2], m[3])
		}
	}

	return compileURL(text)
}

// IsContentText returns true if text has the shape of a content rule, valid or
// not.
func IsContentText(text string) (ok bool) {
	return strings.IndexByte(text, '#') != -1 && reContent.MatchString(text)
}

// compileContent returns an element hiding or a snippet rule.  mark is the
// character between the hashes, if any.
func compileContent(text, domains, mark, body string) (r *Rule) {
	domains = strings.ToLower(domains)
	if domains != "" && hasEmptyDomain(domains, ',') {
		return newInvalid(text, ErrInvalidDomain)
	}

	var kind Kind
	switch mark {
	case "@":
		kind = KindElemHideException
	case "?":
		if !hasSpecificDomain(domains) {
			return newInvalid(text, ErrEmulationNoDomain)
		}

		kind = KindElemHideEmulation
	case "$":
		if !hasSpecificDomain(domains) {
			return newInvalid(text, ErrSnippetNoDomain)
		}

		kind = KindSnippet
	default:
		kind = KindElemHide
	}

	r = newRule(text, kind, domains, ',')
	r.Body = body

	return r
}

// urlOptions are the parsed options of a URL rule.
type urlOptions struct {
	domains     string
	sitekeys    string
	csp         string
	rewrite     string
	contentType ContentType
	thirdParty  ThirdParty
	typeSet     bool
	matchCase   bool
	hasRewrite  bool
}

// compileURL returns a blocking or an allowing rule.
func compileURL(text string) (r *Rule) {
	kind := KindBlocking
	pattern := text
	if strings.HasPrefix(text, maskAllowing) {
		kind = KindAllowing
		pattern = text[len(maskAllowing):]
	}

	opts := &urlOptions{}
	if strings.IndexByte(pattern, '$') != -1 {
		if m := reOptions.FindStringSubmatchIndex(pattern); m != nil {
			options := pattern[m[2]:m[3]]
			pattern = pattern[:m[0]]

			if err := opts.load(options, kind); err != nil {
				return newInvalid(text, err)
			}
		}
	}

	if !opts.typeSet {
		opts.contentType = TypesResource
	}

	if err := opts.validate(pattern, kind); err != nil {
		return newInvalid(text, err)
	}

	r = newRule(text, kind, opts.domains, '|')
	r.ContentType = opts.contentType
	r.MatchCase = opts.matchCase
	r.ThirdParty = opts.thirdParty
	r.CSP = opts.csp
	r.Rewrite = opts.rewrite
	if opts.sitekeys != "" {
		r.Sitekeys = strings.FieldsFunc(strings.ToUpper(opts.sitekeys), func(c rune) bool {
			return c == '|'
		})
	}

	if err := r.setPattern(pattern); err != nil {
		return newInvalid(text, err)
	}

	return r
}

// setPattern sets the pattern of the URL rule and prepares its matcher.
func (r *Rule) setPattern(pattern string) (err error) {
	if isRegexpPattern(pattern) {
		r.isRegexp = true
		r.pattern = pattern[1 : len(pattern)-1]

		src := r.pattern
		if !r.MatchCase {
			src = "(?i)" + src
		}

		re, compileErr := regexp.Compile(src)
		if compileErr != nil {
			return ErrInvalidRegexp
		}

		r.regexp = func() (compiled *regexp.Regexp) { return re }

		return nil
	}

	pattern = normalizePattern(pattern)
	r.literal = isLiteralPattern(pattern)
	if r.literal {
		if !r.MatchCase {
			pattern = strings.ToLower(pattern)
		}

		r.pattern = pattern

		return nil
	}

	if !utf8.ValidString(pattern) {
		return ErrInvalidRegexp
	}

	r.pattern = pattern
	r.regexp = sync.OnceValue(func() (re *regexp.Regexp) {
		src := patternToRegexp(r.pattern)
		if !r.MatchCase {
			src = "(?i)" + src
		}

		// The source is built from quoted literals, so it always compiles.
		return regexp.MustCompile(src)
	})

	return nil
}

// load parses the comma-separated options.
func (o *urlOptions) load(options string, kind Kind) (err error) {
	for option := range strings.SplitSeq(options, ",") {
		name, value, hasValue := strings.Cut(option, "=")
		inverse := strings.HasPrefix(name, "~")
		if inverse {
			name = name[1:]
		}

		name = strings.ToLower(name)
		if t, ok := ParseContentType(name); ok {
			o.setType(t, inverse)
			if t == TypeCSP && !inverse {
				if kind == KindBlocking && value == "" {
					return ErrInvalidCSP
				}

				o.csp = value
			}

			continue
		}

		err = o.loadOption(name, value, hasValue, inverse)
		if err != nil {
			return err
		}
	}

	return nil
}

// setType sets or clears the content type bit.  Clearing starts from the mask
// of all resource types.
func (o *urlOptions) setType(t ContentType, inverse bool) {
	if inverse {
		if !o.typeSet {
			o.contentType = TypesResource
		}

		o.contentType &^= t
	} else {
		o.contentType |= t
	}

	o.typeSet = true
}

// loadOption loads an option which is not a content type.
func (o *urlOptions) loadOption(name, value string, hasValue, inverse bool) (err error) {
	switch name {
	case "match-case":
		o.matchCase = !inverse
	case "third-party":
		o.thirdParty = ThirdPartyOnly
		if inverse {
			o.thirdParty = FirstPartyOnly
		}
	case "domain":
		if value == "" || hasEmptyDomain(value, '|') {
			return ErrInvalidDomain
		}

		o.domains = strings.ToLower(value)
	case "sitekey":
		if value == "" {
			return ErrInvalidSitekey
		}

		o.sitekeys = value
	case "rewrite":
		if !hasValue || !strings.HasPrefix(value, rewriteResourceTag) {
			return ErrInvalidRewrite
		}

		o.rewrite = value[len(rewriteResourceTag):]
		o.hasRewrite = true
	default:
		return ErrUnknownOption
	}

	return nil
}

// validate checks the combination of the options and the raw pattern.
func (o *urlOptions) validate(pattern string, kind Kind) (err error) {
	if kind != KindBlocking {
		return nil
	}

	if o.csp != "" && reInvalidCSP.MatchString(o.csp) {
		return ErrInvalidCSP
	}

	if !o.hasRewrite {
		return nil
	}

	switch {
	case strings.HasPrefix(pattern, "||"):
		if o.domains == "" && o.thirdParty != FirstPartyOnly {
			return ErrInvalidRewrite
		}
	case strings.HasPrefix(pattern, "*"):
		if o.domains == "" {
			return ErrInvalidRewrite
		}
	default:
		return ErrInvalidRewrite
	}

	return nil
}
