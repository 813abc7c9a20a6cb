// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

package catalog

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseURLs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []URL
		wantErr bool
	}{
		{
			name:  "plain URLs with hierarchy",
			input: "https://shop.example/widgets/large/w1\nhttps://shop.example/widgets/small/w2\n",
			want: []URL{
				{Href: "https://shop.example/widgets/large/w1", Category: "widgets", Subcategory: "large"},
				{Href: "https://shop.example/widgets/small/w2", Category: "widgets", Subcategory: "small"},
			},
		},
		{
			name:  "tab separated title",
			input: "https://shop.example/widgets/large/w1\tBig Widget\n",
			want: []URL{
				{Href: "https://shop.example/widgets/large/w1", Title: "Big Widget", Category: "widgets", Subcategory: "large"},
			},
		},
		{
			name:  "CRLF endings and comments",
			input: "# catalog\r\n\r\nhttps://shop.example/a/b/c\r\n",
			want: []URL{
				{Href: "https://shop.example/a/b/c", Category: "a", Subcategory: "b"},
			},
		},
		{
			name:  "short paths collapse to root",
			input: "https://shop.example/\nhttps://shop.example/about\n",
			want: []URL{
				{Href: "https://shop.example/", Category: "root"},
				{Href: "https://shop.example/about", Category: "root"},
			},
		},
		{
			name:  "two segments give category only",
			input: "https://shop.example/widgets/index\n",
			want: []URL{
				{Href: "https://shop.example/widgets/index", Category: "widgets"},
			},
		},
		{
			name:    "relative URL rejected",
			input:   "/widgets/large/w1\n",
			wantErr: true,
		},
		{
			name:    "non-http scheme rejected",
			input:   "ftp://shop.example/file\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURLs(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseURLs() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURLs() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseURLs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	input := "# site\nhttps://shop.example/widgets/large/w1\tBig Widget\r\nhttps://shop.example/gadgets/pro/g1\n"
	first, err := ParseURLs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}

	second, err := ParseURLs(strings.NewReader(Canonical(first)))
	if err != nil {
		t.Fatalf("reparse of canonical output: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed the set:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestSummarize(t *testing.T) {
	urls := []URL{
		{Href: "https://x/a/b/1", Category: "a", Subcategory: "b"},
		{Href: "https://x/a/b/2", Category: "a", Subcategory: "b"},
		{Href: "https://x/a/c/3", Category: "a", Subcategory: "c"},
		{Href: "https://x/", Category: "root"},
	}
	s := Summarize(urls)

	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.Categories["a"] != 3 || s.Categories["root"] != 1 {
		t.Errorf("Categories = %v", s.Categories)
	}
	if s.Subcategories["a"]["b"] != 2 || s.Subcategories["a"]["c"] != 1 {
		t.Errorf("Subcategories = %v", s.Subcategories)
	}
	if got := s.CategoryNames(); !reflect.DeepEqual(got, []string{"a", "root"}) {
		t.Errorf("CategoryNames() = %v", got)
	}
}
