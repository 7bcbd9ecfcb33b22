package htmldom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kuitang/pageflow/internal/resolver"
)

// Element is a handle to a node of the document it was queried from.
type Element struct {
	b    *Browser
	node *html.Node
	gen  int
}

// attached reports whether the handle still points into the current document. Callers hold b.mu.
func (e *Element) attached() error {
	if e.gen != e.b.gen {
		return ErrDetached
	}
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return e.attached()
}

// Click follows links, submits forms and toggles checkboxes and radios.
func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	if err := e.attached(); err != nil {
		e.b.mu.Unlock()
		return err
	}
	if disabled(e.node) {
		e.b.mu.Unlock()
		return resolver.ErrDisabled
	}

	n := e.node
	if link := closest(n, atom.A); link != nil && hasAttr(link, "href") {
		href := attr(link, "href")
		e.b.mu.Unlock()
		if strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		return e.b.Goto(ctx, href)
	}

	switch {
	case isCheckable(n):
		toggle(n)
		e.b.mu.Unlock()
		return nil
	case isSubmitter(n):
		form := owningForm(n)
		if form == nil {
			e.b.mu.Unlock()
			return nil
		}
		req, err := e.b.submitRequest(ctx, form, n)
		e.b.mu.Unlock()
		if err != nil {
			return err
		}
		return e.b.load(req)
	}
	e.b.mu.Unlock()
	return nil
}

func (e *Element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	if e.node.DataAtom == atom.Select {
		return selectOption(e.node, value)
	}
	setValue(e.node, clampLength(e.node, value))
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	return e.Fill(ctx, "")
}

// Type appends text one rune at a time, so maxlength stops input the way a browser does.
func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	e.b.mu.Lock()
	err := e.writable()
	e.b.mu.Unlock()
	if err != nil {
		return err
	}
	return resolver.Keystrokes(ctx, text, delay, func(key string) error {
		e.b.mu.Lock()
		defer e.b.mu.Unlock()
		if err := e.writable(); err != nil {
			return err
		}
		setValue(e.node, clampLength(e.node, value(e.node)+key))
		return nil
	})
}

func (e *Element) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.attached(); err != nil {
		return "", err
	}
	return value(e.node), nil
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.attached(); err != nil {
		return false, err
	}
	return !disabled(e.node), nil
}

// Text returns the element's normalized text content.
func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.attached(); err != nil {
		return "", err
	}
	return normalizeSpace(htmlquery.InnerText(e.node)), nil
}

// Attr returns an attribute value of the element.
func (e *Element) Attr(name string) string {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return attr(e.node, name)
}

func (e *Element) writable() error {
	if err := e.attached(); err != nil {
		return err
	}
	n := e.node
	switch n.DataAtom {
	case atom.Textarea, atom.Select:
	case atom.Input:
		switch inputType(n) {
		case "button", "submit", "reset", "checkbox", "radio", "file", "image", "hidden":
			return fmt.Errorf("htmldom: cannot type into input[type=%s]", inputType(n))
		}
	default:
		return fmt.Errorf("htmldom: <%s> is not editable", n.Data)
	}
	if disabled(n) {
		return resolver.ErrDisabled
	}
	if hasAttr(n, "readonly") {
		return fmt.Errorf("htmldom: field is read-only")
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func inputType(n *html.Node) string {
	t := strings.ToLower(strings.TrimSpace(attr(n, "type")))
	if t == "" {
		return "text"
	}
	return t
}

func isCheckable(n *html.Node) bool {
	if n.DataAtom != atom.Input {
		return false
	}
	t := inputType(n)
	return t == "checkbox" || t == "radio"
}

func isSubmitter(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		t := strings.ToLower(attr(n, "type"))
		return t == "" || t == "submit"
	case atom.Input:
		t := inputType(n)
		return t == "submit" || t == "image"
	}
	return false
}

func toggle(n *html.Node) {
	if inputType(n) == "radio" {
		if form := owningForm(n); form != nil {
			name := attr(n, "name")
			for _, other := range formControls(form) {
				if other != n && isCheckable(other) && inputType(other) == "radio" && attr(other, "name") == name {
					removeAttr(other, "checked")
				}
			}
		}
		setAttr(n, "checked", "")
		return
	}
	if hasAttr(n, "checked") {
		removeAttr(n, "checked")
	} else {
		setAttr(n, "checked", "")
	}
}

func value(n *html.Node) string {
	switch n.DataAtom {
	case atom.Textarea:
		return htmlquery.InnerText(n)
	case atom.Select:
		var first, chosen *html.Node
		for _, opt := range options(n) {
			if first == nil {
				first = opt
			}
			if hasAttr(opt, "selected") {
				chosen = opt
			}
		}
		if chosen == nil {
			chosen = first
		}
		if chosen == nil {
			return ""
		}
		return optionValue(chosen)
	default:
		if isCheckable(n) && !hasAttr(n, "value") {
			return "on"
		}
		return attr(n, "value")
	}
}

func setValue(n *html.Node, v string) {
	if n.DataAtom == atom.Textarea {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		if v != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
		}
		return
	}
	setAttr(n, "value", v)
}

func clampLength(n *html.Node, v string) string {
	limit, err := strconv.Atoi(attr(n, "maxlength"))
	if err != nil || limit < 0 || utf8.RuneCountInString(v) <= limit {
		return v
	}
	return string([]rune(v)[:limit])
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(sel)
	return out
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return normalizeSpace(htmlquery.InnerText(opt))
}

func selectOption(sel *html.Node, v string) error {
	var match *html.Node
	for _, opt := range options(sel) {
		if optionValue(opt) == v || normalizeSpace(htmlquery.InnerText(opt)) == v {
			match = opt
			break
		}
	}
	if match == nil {
		return fmt.Errorf("htmldom: no option %q", v)
	}
	for _, opt := range options(sel) {
		removeAttr(opt, "selected")
	}
	setAttr(match, "selected", "")
	return nil
}

func closest(n *html.Node, a atom.Atom) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

// disabled follows the HTML rules for the disabled attribute and disabled fieldsets,
// where controls inside the fieldset's first legend stay enabled.
func disabled(n *html.Node) bool {
	if hasAttr(n, "disabled") {
		switch n.DataAtom {
		case atom.Button, atom.Input, atom.Select, atom.Textarea, atom.Option, atom.Optgroup, atom.Fieldset:
			return true
		}
	}
	for child, p := n, n.Parent; p != nil; child, p = p, p.Parent {
		if p.Type != html.ElementNode || p.DataAtom != atom.Fieldset || !hasAttr(p, "disabled") {
			continue
		}
		if child.DataAtom == atom.Legend && firstLegend(p) == child {
			continue
		}
		return true
	}
	return false
}

func firstLegend(fieldset *html.Node) *html.Node {
	for c := fieldset.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Legend {
			return c
		}
	}
	return nil
}

// visible approximates rendering: hidden attributes, inline display/visibility styles,
// hidden inputs and non-rendered elements all count as not visible.
func visible(n *html.Node) bool {
	if n.DataAtom == atom.Input && inputType(n) == "hidden" {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript, atom.Title, atom.Meta:
			return false
		}
		if hasAttr(p, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(p, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
