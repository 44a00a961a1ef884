package wggesucht

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/scraper"
	"rental-crawler/utils"
)

func TestParseContact(t *testing.T) {
	tests := []struct {
		name string
		html string
		want ContactResult
	}{
		{
			name: "typed numbers",
			html: `<div id="phone_numbers"><span class="contact_name">Jonas</span>
<span class="phone_mobile">0171 1234567</span><span class="phone_landline">030 1234567</span></div>`,
			want: ContactResult{Published: true, Name: "Jonas", Mobile: "0171 1234567", Landline: "030 1234567"},
		},
		{
			name: "untyped tel links",
			html: `<div class="phone_numbers"><a href="tel:030 7654321">030 7654321</a><a href="tel:+49 160 1112223">mobil</a></div>`,
			want: ContactResult{Published: true, Mobile: "+49 160 1112223", Landline: "030 7654321"},
		},
		{
			name: "email only",
			html: `<div class="contact_details_phone"><a href="mailto: kim@example.org">Mail</a></div>`,
			want: ContactResult{Published: true, Email: "kim@example.org"},
		},
		{
			name: "no panel",
			html: `<div id="main_column"><p>Telefonnummer anzeigen</p></div>`,
			want: ContactResult{},
		},
		{
			name: "panel of a similar listing",
			html: `<div class="similar_offers"><div class="phone_numbers"><a href="tel:030 1">030 1</a></div></div>`,
			want: ContactResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseContact(htmlDoc(t, "<html><body>"+tt.html+"</body></html>"))
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPreferredPhone(t *testing.T) {
	if got := (ContactResult{Mobile: "0151", Landline: "030"}).PreferredPhone(); got != "0151" {
		t.Errorf("PreferredPhone() = %q; want mobile", got)
	}
	if got := (ContactResult{Landline: "030"}).PreferredPhone(); got != "030" {
		t.Errorf("PreferredPhone() = %q; want landline fallback", got)
	}
}

func newTestRevealer(t *testing.T, login *fakePage) (*Revealer, *fakeSource) {
	t.Helper()
	source := &fakeSource{pages: []*fakePage{login}}
	sessions := NewSessionManager(Credentials{Email: "me@example.org", Password: "secret"},
		nil, source, BaseURL, time.Hour, utils.NewTestLogger())
	r := NewRevealer(sessions)
	r.wait = 50 * time.Millisecond
	r.poll = 5 * time.Millisecond
	return r, source
}

func TestRevealShowsPanel(t *testing.T) {
	r, _ := newTestRevealer(t, loginPage())
	page := newFakePage("#show_phone_numbers")
	page.onClick["#show_phone_numbers"] = []string{"#phone_numbers"}

	ok, err := r.Reveal(context.Background(), page, modernURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"#show_phone_numbers"}, page.clicked)
}

func TestRevealWithoutControl(t *testing.T) {
	r, _ := newTestRevealer(t, loginPage())
	ok, err := r.Reveal(context.Background(), newFakePage(), modernURL)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevealSkippedWhenDisabled(t *testing.T) {
	sessions := NewSessionManager(Credentials{}, nil, nil, BaseURL, 0, utils.NewTestLogger())
	page := newFakePage("#show_phone_numbers")

	ok, err := NewRevealer(sessions).Reveal(context.Background(), page, modernURL)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, page.clicked)
}

func TestRevealLogsInOnceOnInlinePrompt(t *testing.T) {
	r, source := newTestRevealer(t, loginPage())

	page := newFakePage("#show_phone_numbers")
	page.onClick["#show_phone_numbers"] = []string{".phone_login_required"}
	page.onNavigate = func(p *fakePage, _ string) {
		p.unset(".phone_login_required")
		p.onClick["#show_phone_numbers"] = []string{"#phone_numbers"}
	}

	ok, err := r.Reveal(context.Background(), page, modernURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, source.count())
	require.Len(t, page.applied, 1)
	require.Equal(t, []string{modernURL}, page.navigated)
}

func TestRevealPersistentPromptIsLoginFailure(t *testing.T) {
	r, source := newTestRevealer(t, loginPage())

	page := newFakePage("#show_phone_numbers")
	page.onClick["#show_phone_numbers"] = []string{".phone_login_required"}

	_, err := r.Reveal(context.Background(), page, modernURL)
	var lf *scraper.LoginFailure
	require.True(t, errors.As(err, &lf), "want LoginFailure, got %v", err)
	require.Equal(t, 1, source.count())
}

func TestRevealPanelNeverAppears(t *testing.T) {
	r, _ := newTestRevealer(t, loginPage())
	page := newFakePage("#show_phone_numbers")

	ok, err := r.Reveal(context.Background(), page, modernURL)
	require.ErrorIs(t, err, errNoPanel)
	require.False(t, ok)
}
