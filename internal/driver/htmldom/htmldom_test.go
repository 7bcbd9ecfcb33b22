package htmldom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/pageflow/internal/resolver"
)

const formPage = `<!doctype html>
<html><head><title>Add customer</title><style>.x{}</style></head>
<body>
  <a id="home" href="/home">Home</a>
  <form id="customer" method="post" action="/save">
    <input id="name" name="name" placeholder="Full name">
    <input type="tel" name="phone" maxlength="6">
    <input type="hidden" name="csrf" value="tok">
    <input type="checkbox" name="vip" value="yes">
    <select name="tier"><option value="b">Bronze</option><option value="g">Gold</option></select>
    <textarea name="notes">old</textarea>
    <div style="display: none"><input id="ghost" name="ghost"></div>
    <input id="secret" name="secret" hidden>
    <fieldset disabled><legend><input id="legend-input" name="li"></legend><input id="locked" name="locked"></fieldset>
    <button id="save" type="submit" name="op" value="save">Save customer</button>
    <button id="cancel" type="button">Cancel</button>
  </form>
</body></html>`

type capture struct {
	method string
	form   map[string][]string
}

func newServer(t *testing.T, got *capture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/form", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, formPage)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1 id="title">Home</h1></body></html>`)
	})
	mux.HandleFunc("/save", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.method = r.Method
		got.form = r.PostForm
		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openForm(t *testing.T) (*Browser, *capture) {
	t.Helper()
	got := &capture{}
	srv := newServer(t, got)
	b := New(nil)
	require.NoError(t, b.Goto(context.Background(), srv.URL+"/form"))
	return b, got
}

func TestQuery_SelectorKinds(t *testing.T) {
	t.Parallel()
	b, _ := openForm(t)
	ctx := context.Background()
	vis := resolver.QueryOptions{Visible: true}

	for _, sel := range []string{
		"#name",
		"input[placeholder*=name]",
		"//input[@name='name']",
		"xpath=//form//input[1]",
		"text=Save customer",
		"#missing, #name",
	} {
		_, err := b.Query(ctx, sel, vis)
		require.NoError(t, err, sel)
	}

	_, err := b.Query(ctx, "#nope", vis)
	require.ErrorIs(t, err, resolver.ErrNotFound)

	_, err = b.Query(ctx, "input[", vis)
	require.Error(t, err)
	require.False(t, errors.Is(err, resolver.ErrNotFound))
}

func TestQuery_Visibility(t *testing.T) {
	t.Parallel()
	b, _ := openForm(t)
	ctx := context.Background()

	for _, sel := range []string{"#ghost", "#secret", "input[name=csrf]", "title"} {
		_, err := b.Query(ctx, sel, resolver.QueryOptions{Visible: true})
		require.ErrorIs(t, err, resolver.ErrNotFound, sel)

		_, err = b.Query(ctx, sel, resolver.QueryOptions{})
		require.NoError(t, err, sel)
	}
}

func TestElement_DisabledFieldset(t *testing.T) {
	t.Parallel()
	b, _ := openForm(t)
	ctx := context.Background()

	locked, err := b.Query(ctx, "#locked", resolver.QueryOptions{Visible: true})
	require.NoError(t, err)
	enabled, err := locked.Enabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)
	require.ErrorIs(t, locked.Fill(ctx, "x"), resolver.ErrDisabled)

	legend, err := b.Query(ctx, "#legend-input", resolver.QueryOptions{Visible: true})
	require.NoError(t, err)
	enabled, err = legend.Enabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled)
}

func testElement_MaxLengthClampsFillAndType(t *rapid.T) {
	text := rapid.StringMatching(`[0-9]{0,12}`).Draw(t, "text")
	b := New(nil)
	if err := b.LoadHTML("http://example.test/", `<input id="p" maxlength="6">`); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	el, err := b.Query(ctx, "#p", resolver.QueryOptions{Visible: true})
	if err != nil {
		t.Fatal(err)
	}
	want := text
	if len(want) > 6 {
		want = want[:6]
	}

	if err := el.Fill(ctx, text); err != nil {
		t.Fatal(err)
	}
	if got, _ := el.Value(ctx); got != want {
		t.Fatalf("fill: got %q, want %q", got, want)
	}
	if err := el.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := el.Type(ctx, text, 0); err != nil {
		t.Fatal(err)
	}
	if got, _ := el.Value(ctx); got != want {
		t.Fatalf("type: got %q, want %q", got, want)
	}
}

func TestElement_MaxLengthClampsFillAndType(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testElement_MaxLengthClampsFillAndType)
}

func TestClick_SubmitsFormAndFollowsRedirect(t *testing.T) {
	t.Parallel()
	b, got := openForm(t)
	ctx := context.Background()
	q := func(sel string) resolver.Element {
		el, err := b.Query(ctx, sel, resolver.QueryOptions{Visible: true})
		require.NoError(t, err, sel)
		return el
	}

	require.NoError(t, q("#name").Fill(ctx, "Ada Lovelace"))
	require.NoError(t, q("input[type=tel]").Type(ctx, "5551234", 0))
	require.NoError(t, q("input[name=vip]").Click(ctx))
	require.NoError(t, q("select").Fill(ctx, "Gold"))
	require.NoError(t, q("textarea").Fill(ctx, "prefers email"))
	save := q("#save")
	require.NoError(t, save.Click(ctx))

	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "Ada Lovelace", got.form["name"][0])
	require.Equal(t, "555123", got.form["phone"][0])
	require.Equal(t, "tok", got.form["csrf"][0])
	require.Equal(t, "yes", got.form["vip"][0])
	require.Equal(t, "g", got.form["tier"][0])
	require.Equal(t, "prefers email", got.form["notes"][0])
	require.Equal(t, "save", got.form["op"][0])
	require.NotContains(t, got.form, "locked")

	require.True(t, strings.HasSuffix(b.URL(), "/home"), b.URL())
	title, err := b.Text("#title")
	require.NoError(t, err)
	require.Equal(t, "Home", title)

	_, err = save.Value(ctx)
	require.ErrorIs(t, err, ErrDetached)
}

func TestClick_LinkNavigates(t *testing.T) {
	t.Parallel()
	b, _ := openForm(t)
	ctx := context.Background()
	home, err := b.Query(ctx, "text=Home", resolver.QueryOptions{Visible: true})
	require.NoError(t, err)
	require.NoError(t, home.Click(ctx))
	require.True(t, strings.HasSuffix(b.URL(), "/home"))
}

func TestScreenshot_SerializesDocument(t *testing.T) {
	t.Parallel()
	b := New(nil)
	_, _, err := b.Screenshot(context.Background())
	require.ErrorIs(t, err, ErrNoDocument)

	require.NoError(t, b.LoadHTML("http://example.test/", `<p id="x">hi</p>`))
	data, ext, err := b.Screenshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, ".html", ext)
	require.Contains(t, string(data), `<p id="x">hi</p>`)
}

func TestResolver_AgainstParsedDOM(t *testing.T) {
	t.Parallel()
	b := New(nil)
	require.NoError(t, b.LoadHTML("http://example.test/", `
		<form><input type="tel" name="phone"><button id="save" disabled>Save</button></form>`))
	r := resolver.New(b)
	ctx := context.Background()

	res := r.Resolve(ctx, resolver.Candidates("#phone", "input[type=tel]", "input[placeholder*=phone]"))
	require.True(t, res.OK(), res.Message())
	require.Equal(t, "input[type=tel]", res.Candidate.Selector)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, resolver.CandidateNotFound, res.Attempts[0].Kind)

	out := r.PerformAction(ctx, resolver.Candidates("#save"), resolver.Click, "")
	require.Equal(t, resolver.StatusActionFailed, out.Status)
	require.Equal(t, resolver.ActionError, out.Attempts[len(out.Attempts)-1].Kind)
}
