package query

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "path only",
			key:  Key{Path: "/items"},
			want: "query:/items",
		},
		{
			name: "path with query string",
			key:  Key{Path: "/items?sort=asc&page=2"},
			want: "query:/items?sort=asc&page=2",
		},
		{
			name: "params sorted",
			key: Key{
				Path: "/items",
				Params: url.Values{
					"tenant": []string{"acme"},
					"locale": []string{"de"},
				},
			},
			want: "query:/items:locale=de:tenant=acme",
		},
		{
			name: "multi-valued param",
			key: Key{
				Path:   "/items",
				Params: url.Values{"scope": []string{"read", "write"}},
			},
			want: "query:/items:scope=read,write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_Determinism ensures the same key always renders identically.
func TestKey_Determinism(t *testing.T) {
	key := Key{
		Path: "/items?page=1",
		Params: url.Values{
			"z": []string{"1"},
			"a": []string{"2"},
			"m": []string{"3"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestNewKey(t *testing.T) {
	type vary struct {
		Tenant string `url:"tenant"`
		Locale string `url:"locale,omitempty"`
	}

	tests := []struct {
		name    string
		vary    any
		want    string
		wantErr bool
	}{
		{name: "nil vary", vary: nil, want: "query:/items"},
		{name: "struct vary", vary: vary{Tenant: "acme"}, want: "query:/items:tenant=acme"},
		{name: "pointer vary", vary: &vary{Tenant: "acme", Locale: "de"}, want: "query:/items:locale=de:tenant=acme"},
		{name: "url values", vary: url.Values{"x": []string{"1"}}, want: "query:/items:x=1"},
		{name: "empty url values", vary: url.Values{}, want: "query:/items"},
		{name: "unsupported vary", vary: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewKey("/items", tt.vary)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := key.String(); got != tt.want {
				t.Errorf("NewKey().String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_Equal(t *testing.T) {
	a := Key{Path: "/items", Params: url.Values{"t": []string{"1"}}}
	b := Key{Path: "/items", Params: url.Values{"t": []string{"1"}}}
	c := Key{Path: "/items"}

	if !a.Equal(b) {
		t.Error("keys with same path and params should be equal")
	}
	if a.Equal(c) {
		t.Error("keys with different params should differ")
	}
}

func TestKey_StringEscapesSeparators(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
	}{
		{
			name: "path imitating params",
			a:    Key{Path: "/a:tenant=acme"},
			b:    Key{Path: "/a", Params: url.Values{"tenant": []string{"acme"}}},
		},
		{
			name: "escaped path imitating raw colon",
			a:    Key{Path: "/a%3Ab"},
			b:    Key{Path: "/a:b"},
		},
		{
			name: "value imitating second param",
			a:    Key{Path: "/a", Params: url.Values{"t": []string{"1:u=2"}}},
			b:    Key{Path: "/a", Params: url.Values{"t": []string{"1"}, "u": []string{"2"}}},
		},
		{
			name: "comma inside value",
			a:    Key{Path: "/a", Params: url.Values{"s": []string{"x,y"}}},
			b:    Key{Path: "/a", Params: url.Values{"s": []string{"x", "y"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a.Equal(tt.b) {
				t.Errorf("keys %q and %q render identically", tt.a.Path, tt.b.Path)
			}
		})
	}

	if got, want := (Key{Path: "/a:b"}).String(), "query:/a%3Ab"; got != want {
		t.Errorf("Key.String() = %v, want %v", got, want)
	}
}
