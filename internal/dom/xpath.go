package dom

import (
	"context"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/sanitize"
)

// XPathError is returned when neither a path nor a tag name can be read.
const XPathError = "unknown_xpath_error"

// xpathJS computes a positional path for the element it receives. An id
// ends the ascent; body, head and html have fixed paths; everything else is
// its parent's path plus a 1-based index among same-tag siblings.
const xpathJS = `el => {
	const pathTo = (node) => {
		if (!node || node.nodeType !== 1) return '';
		if (node.id) return 'id("' + node.id + '")';
		if (node.tagName === 'BODY') return '/html/body';
		if (node.tagName === 'HEAD') return '/html/head';
		if (node.tagName === 'HTML') return '/html';

		const tag = node.tagName.toLowerCase();
		const siblings = node.parentNode ? Array.from(node.parentNode.children) : [];
		let ix = 0;
		for (const sibling of siblings) {
			if (sibling === node) {
				return pathTo(node.parentNode) + '/' + tag + '[' + (ix + 1) + ']';
			}
			if (sibling.nodeType === 1 && sibling.tagName === node.tagName) ix++;
		}
		return '/' + tag;
	};
	return pathTo(el);
}`

const tagNameJS = `el => el.tagName.toLowerCase()`

// XPath returns a locator for el. It degrades to the bare tag name and then
// to XPathError; it never fails.
func XPath(ctx context.Context, el browser.Element, timeout time.Duration) string {
	if p, err := callString(ctx, el, xpathJS, timeout); err == nil && p != "" {
		return sanitize.String(p)
	}
	if tag, err := callString(ctx, el, tagNameJS, timeout); err == nil && tag != "" {
		return sanitize.String(tag)
	}
	return XPathError
}

func callString(ctx context.Context, el browser.Element, fn string, timeout time.Duration) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", errPanic
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := el.Call(ctx, fn)
	if err != nil {
		return "", err
	}
	s, _ = v.Val().(string)
	return s, nil
}
