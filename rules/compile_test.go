package rules_test

import (
	"testing"

	"github.com/abpkit/abpfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_kind(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wantReason error
		in         string
		name       string
		wantKind   rules.Kind
	}{{
		wantReason: nil,
		in:         "",
		name:       "empty",
		wantKind:   rules.KindComment,
	}, {
		wantReason: nil,
		in:         "! comment",
		name:       "comment",
		wantKind:   rules.KindComment,
	}, {
		wantReason: nil,
		in:         "##.banner",
		name:       "elemhide",
		wantKind:   rules.KindElemHide,
	}, {
		wantReason: nil,
		in:         "example.com#@#.banner",
		name:       "elemhide_exception",
		wantKind:   rules.KindElemHideException,
	}, {
		wantReason: nil,
		in:         "example.com#?#div:-abp-has(> .ad)",
		name:       "emulation",
		wantKind:   rules.KindElemHideEmulation,
	}, {
		wantReason: rules.ErrEmulationNoDomain,
		in:         "#?#div:-abp-has(> .ad)",
		name:       "emulation_no_domain",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrEmulationNoDomain,
		in:         "com,~example.com#?#div",
		name:       "emulation_generic_domain",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: nil,
		in:         "example.com#$#log hello",
		name:       "snippet",
		wantKind:   rules.KindSnippet,
	}, {
		wantReason: rules.ErrSnippetNoDomain,
		in:         "~example.com#$#log hello",
		name:       "snippet_exclusion_only",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidDomain,
		in:         "example.com,##.banner",
		name:       "elemhide_empty_domain",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidDomain,
		in:         "~##.banner",
		name:       "elemhide_bare_tilde",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: nil,
		in:         "||example.com^",
		name:       "blocking",
		wantKind:   rules.KindBlocking,
	}, {
		wantReason: nil,
		in:         "@@||example.com^",
		name:       "allowing",
		wantKind:   rules.KindAllowing,
	}, {
		wantReason: rules.ErrUnknownOption,
		in:         "||example.com^$foo",
		name:       "unknown_option",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidRegexp,
		in:         "/ab[/",
		name:       "bad_regexp",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidCSP,
		in:         "||example.com^$csp=",
		name:       "csp_empty",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidCSP,
		in:         "||example.com^$csp=base-uri 'none'",
		name:       "csp_denylisted",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidCSP,
		in:         "||example.com^$csp=script-src 'none'; referrer",
		name:       "csp_denylisted_second",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: nil,
		in:         "||example.com^$csp=script-src 'none'",
		name:       "csp",
		wantKind:   rules.KindBlocking,
	}, {
		wantReason: nil,
		in:         "@@||example.com^$csp",
		name:       "csp_allowing_empty",
		wantKind:   rules.KindAllowing,
	}, {
		wantReason: rules.ErrInvalidDomain,
		in:         "||example.com^$domain=",
		name:       "domain_empty",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidDomain,
		in:         "||example.com^$domain=example.org|~",
		name:       "domain_bare_tilde",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidDomain,
		in:         "||example.com^$domain=a.com||b.com",
		name:       "domain_empty_entry",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidSitekey,
		in:         "||example.com^$sitekey=",
		name:       "sitekey_empty",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: nil,
		in:         "||example.com/ad.js$rewrite=abp-resource:blank-js,domain=example.com",
		name:       "rewrite_domain",
		wantKind:   rules.KindBlocking,
	}, {
		wantReason: nil,
		in:         "||example.com/ad.js$rewrite=abp-resource:blank-js,~third-party",
		name:       "rewrite_first_party",
		wantKind:   rules.KindBlocking,
	}, {
		wantReason: rules.ErrInvalidRewrite,
		in:         "||example.com/ad.js$rewrite=abp-resource:blank-js",
		name:       "rewrite_unrestricted",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: nil,
		in:         "*/ad.js$rewrite=abp-resource:blank-js,domain=example.com",
		name:       "rewrite_wildcard_domain",
		wantKind:   rules.KindBlocking,
	}, {
		wantReason: rules.ErrInvalidRewrite,
		in:         "*/ad.js$rewrite=abp-resource:blank-js,~third-party",
		name:       "rewrite_wildcard_first_party",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidRewrite,
		in:         "/ad.js$rewrite=abp-resource:blank-js,domain=example.com",
		name:       "rewrite_unanchored",
		wantKind:   rules.KindInvalid,
	}, {
		wantReason: rules.ErrInvalidRewrite,
		in:         "||example.com^$rewrite=http://example.org,domain=example.com",
		name:       "rewrite_external",
		wantKind:   rules.KindInvalid,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := rules.Compile(tc.in)
			require.NotNil(t, r)

			assert.Equal(t, tc.in, r.Text)
			assert.Equal(t, tc.wantKind, r.Kind)
			assert.ErrorIs(t, r.Reason, tc.wantReason)
		})
	}
}

func TestCompile_options(t *testing.T) {
	t.Parallel()

	t.Run("content_types", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile("ads$script,IMAGE")
		assert.Equal(t, rules.TypeScript|rules.TypeImage, r.ContentType)

		r = rules.Compile("ads$~script")
		assert.Equal(t, rules.TypesResource&^rules.TypeScript, r.ContentType)

		r = rules.Compile("ads$~script,~image")
		assert.Equal(t, rules.TypesResource&^(rules.TypeScript|rules.TypeImage), r.ContentType)

		r = rules.Compile("ads$popup")
		assert.Equal(t, rules.TypePopup, r.ContentType)

		r = rules.Compile("ads$background,xbl")
		assert.Equal(t, rules.TypeImage|rules.TypeOther, r.ContentType)

		r = rules.Compile("ads")
		assert.Equal(t, rules.TypesResource, r.ContentType)
	})

	t.Run("third_party", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, rules.ThirdPartyOnly, rules.Compile("ads$third-party").ThirdParty)
		assert.Equal(t, rules.FirstPartyOnly, rules.Compile("ads$~third-party").ThirdParty)
		assert.Equal(t, rules.ThirdPartyAny, rules.Compile("ads").ThirdParty)
	})

	t.Run("match_case", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile("Ads$match-case")
		assert.True(t, r.MatchCase)
		assert.Equal(t, "Ads", r.Pattern())

		r = rules.Compile("Ads")
		assert.False(t, r.MatchCase)
		assert.Equal(t, "ads", r.Pattern())
	})

	t.Run("sitekey", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile("||example.com^$sitekey=abc|def")
		assert.Equal(t, []string{"ABC", "DEF"}, r.Sitekeys)
		assert.False(t, r.IsGeneric())
		assert.True(t, r.IsActiveOnDomain("", "abc"))
		assert.False(t, r.IsActiveOnDomain("", "xyz"))
	})

	t.Run("csp_and_rewrite", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile("||example.com^$csp=script-src 'none'")
		assert.Equal(t, "script-src 'none'", r.CSP)
		assert.Equal(t, rules.TypeCSP, r.ContentType)

		r = rules.Compile("||example.com/ad.js$rewrite=abp-resource:blank-js,domain=example.com")
		assert.Equal(t, "blank-js", r.Rewrite)
	})

	t.Run("regexp", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile(`/banner\d+/$image`)
		assert.True(t, r.IsRegexp())
		assert.False(t, r.IsLiteral())
		assert.Equal(t, `banner\d+`, r.Pattern())
		assert.Equal(t, rules.TypeImage, r.ContentType)
	})

	t.Run("wildcards", func(t *testing.T) {
		t.Parallel()

		r := rules.Compile("**ad***s**")
		assert.Equal(t, "ad*s", r.Pattern())
		assert.False(t, r.IsLiteral())

		r = rules.Compile("*")
		assert.Equal(t, "", r.Pattern())
		assert.True(t, r.IsLiteral())
	})
}

func TestCompile_domains(t *testing.T) {
	t.Parallel()

	r := rules.Compile("||x.com^$domain=Example.com|~sub.example.com")
	assert.Equal(t, rules.Domains{
		"example.com":     true,
		"sub.example.com": false,
		"":                false,
	}, r.Domains())
	assert.False(t, r.IsGeneric())

	r = rules.Compile("~example.com##.ad")
	assert.Equal(t, rules.Domains{
		"example.com": false,
		"":            true,
	}, r.Domains())
	assert.True(t, r.IsGeneric())

	assert.Nil(t, rules.Compile("##.ad").Domains())
	assert.Nil(t, rules.Compile("||x.com^").Domains())
}

func TestRule_IsActiveOnDomain(t *testing.T) {
	t.Parallel()

	specific := rules.Compile("||x.com^$domain=example.com|~sub.example.com")
	exclusion := rules.Compile("~example.com##.ad")
	generic := rules.Compile("##.ad")

	testCases := []struct {
		rule   *rules.Rule
		domain string
		name   string
		want   bool
	}{{
		rule:   specific,
		domain: "example.com",
		name:   "specific_exact",
		want:   true,
	}, {
		rule:   specific,
		domain: "foo.example.com",
		name:   "specific_subdomain",
		want:   true,
	}, {
		rule:   specific,
		domain: "sub.example.com",
		name:   "specific_excluded",
		want:   false,
	}, {
		rule:   specific,
		domain: "a.sub.example.com",
		name:   "specific_excluded_subdomain",
		want:   false,
	}, {
		rule:   specific,
		domain: "other.com",
		name:   "specific_other",
		want:   false,
	}, {
		rule:   specific,
		domain: "",
		name:   "specific_no_domain",
		want:   false,
	}, {
		rule:   exclusion,
		domain: "other.com",
		name:   "exclusion_other",
		want:   true,
	}, {
		rule:   exclusion,
		domain: "www.example.com",
		name:   "exclusion_excluded",
		want:   false,
	}, {
		rule:   exclusion,
		domain: "",
		name:   "exclusion_no_domain",
		want:   true,
	}, {
		rule:   generic,
		domain: "example.com",
		name:   "generic",
		want:   true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tc.rule.IsActiveOnDomain(tc.domain, ""))
		})
	}
}

func TestRule_IsLocationOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, rules.Compile("||example.com^").IsLocationOnly())
	assert.True(t, rules.Compile("@@ads").IsLocationOnly())
	assert.False(t, rules.Compile("ads$script").IsLocationOnly())
	assert.False(t, rules.Compile("ads$third-party").IsLocationOnly())
	assert.False(t, rules.Compile("ads$domain=example.com").IsLocationOnly())
	assert.False(t, rules.Compile("ads$sitekey=abc").IsLocationOnly())
}

func TestIsContentText(t *testing.T) {
	t.Parallel()

	assert.True(t, rules.IsContentText("##.ad"))
	assert.True(t, rules.IsContentText("example.com#@#.ad"))
	assert.True(t, rules.IsContentText(",##.ad"))
	assert.False(t, rules.IsContentText("||example.com/#anchor"))
	assert.False(t, rules.IsContentText("||example.com^"))
}

func FuzzCompile(f *testing.F) {
	for _, seed := range []string{
		"",
		"!",
		"#",
		"##banner",
		"example.com#@#.ad",
		"example.com#?#div",
		"example.com#$#log 1",
		"||example.org^",
		"|https://ads|",
		"/regex/",
		"/[/",
		"@@||example.org^$third-party",
		"ads$domain=a.com|~b.a.com,script,~image",
		"ads$csp=script-src 'none'",
		"ad*s^x",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, in string) {
		assert.NotPanics(t, func() {
			r := rules.Compile(in)
			req := rules.NewRequest("https://sub.example.org/ads/banner?x=1", "example.org")
			_ = r.Matches(req, rules.TypesResource, "", false)
			_ = r.IsActiveOnDomain("example.org", "")
		})
	})
}
