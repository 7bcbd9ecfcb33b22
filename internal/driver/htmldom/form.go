package htmldom

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// owningForm returns the form a control belongs to, honoring the form attribute.
func owningForm(n *html.Node) *html.Node {
	if id := attr(n, "form"); id != "" {
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		if f := findByID(root, id); f != nil && f.DataAtom == atom.Form {
			return f
		}
	}
	return closest(n, atom.Form)
}

func findByID(root *html.Node, id string) *html.Node {
	if root.Type == html.ElementNode && attr(root, "id") == id {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if f := findByID(c, id); f != nil {
			return f
		}
	}
	return nil
}

// formControls lists the input, select, textarea and button descendants of form in tree order.
func formControls(form *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Input, atom.Select, atom.Textarea, atom.Button:
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(form)
	return out
}

// formValues builds the form data set the way a browser would for submitter.
func formValues(form, submitter *html.Node) url.Values {
	vals := url.Values{}
	for _, c := range formControls(form) {
		name := attr(c, "name")
		if name == "" || disabled(c) {
			continue
		}
		switch c.DataAtom {
		case atom.Button:
			if c == submitter {
				vals.Add(name, attr(c, "value"))
			}
			continue
		case atom.Input:
			switch inputType(c) {
			case "submit", "image", "reset", "button":
				if c == submitter {
					vals.Add(name, attr(c, "value"))
				}
				continue
			case "checkbox", "radio":
				if !hasAttr(c, "checked") {
					continue
				}
			case "file":
				continue
			}
		}
		vals.Add(name, value(c))
	}
	return vals
}

// submitRequest builds the navigation request for submitting form. Callers hold b.mu.
func (b *Browser) submitRequest(ctx context.Context, form, submitter *html.Node) (*http.Request, error) {
	action := attr(form, "action")
	method := strings.ToUpper(strings.TrimSpace(attr(form, "method")))
	if submitter != nil {
		if v := attr(submitter, "formaction"); v != "" {
			action = v
		}
		if v := attr(submitter, "formmethod"); v != "" {
			method = strings.ToUpper(strings.TrimSpace(v))
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	ref, err := url.Parse(action)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse form action %q: %w", action, err)
	}
	target := ref
	if b.url != nil {
		target = b.url.ResolveReference(ref)
	}
	vals := formValues(form, submitter)

	if method == http.MethodGet {
		q := *target
		q.RawQuery = vals.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("htmldom: build request: %w", err)
		}
		return req, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(vals.Encode()))
	if err != nil {
		return nil, fmt.Errorf("htmldom: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}
