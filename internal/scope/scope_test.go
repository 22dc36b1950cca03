package scope_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"alertline/internal/domain"
	"alertline/internal/scope"
)

type fakeDirectory struct {
	domains []domain.Domain
	err     error
	calls   int
}

func (f *fakeDirectory) ListDomains(_ context.Context, userID, _ string) ([]domain.Domain, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Domain
	for _, d := range f.domains {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func directory() *fakeDirectory {
	return &fakeDirectory{domains: []domain.Domain{
		{ID: "dom_101", UserID: "u1", Name: "prueba1.com", Tags: []string{"marca"}, Status: domain.DomainActive},
		{ID: "dom_205", UserID: "u1", Name: "Prueba2.es", Tags: []string{"marca", "es"}, Status: domain.DomainActive},
		{ID: "dom_777", UserID: "u1", Name: "prueba3-dev.com", Tags: []string{"dev"}, Status: domain.DomainInactive},
		{ID: "dom_900", UserID: "u2", Name: "other.com", Tags: []string{"marca"}, Status: domain.DomainActive},
	}}
}

func TestResolveAllActiveOnly(t *testing.T) {
	res, err := scope.Resolver{Directory: directory()}.Resolve(context.Background(), "u1", domain.Scope{TargetType: domain.TargetAll})
	if err != nil {
		t.Fatal(err)
	}
	if res.TargetType != domain.TargetDomains || !reflect.DeepEqual(res.DomainIDs, []string{"dom_101", "dom_205"}) {
		t.Fatalf("res %+v", res)
	}
	if !res.Resolved() || res.Stats.Matched != 2 {
		t.Fatalf("stats %+v", res.Stats)
	}
}

func TestResolveTags(t *testing.T) {
	r := scope.Resolver{Directory: directory()}
	res, err := r.Resolve(context.Background(), "u1", domain.Scope{TargetType: domain.TargetTags, Tags: []string{"ES", "dev"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.DomainIDs, []string{"dom_205"}) {
		t.Fatalf("ids %v", res.DomainIDs)
	}
}

func TestResolveNamesCaseInsensitive(t *testing.T) {
	r := scope.Resolver{Directory: directory()}
	res, err := r.Resolve(context.Background(), "u1", domain.Scope{
		TargetType: domain.TargetDomains,
		Domains:    []string{"PRUEBA2.ES", "doesnotexist.com", "prueba3-dev.com", "other.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.DomainIDs, []string{"dom_205", "dom_777"}) {
		t.Fatalf("ids %v", res.DomainIDs)
	}
	if !reflect.DeepEqual(res.MissingDomains, []string{"doesnotexist.com", "other.com"}) {
		t.Fatalf("missing %v", res.MissingDomains)
	}
	if res.Resolved() {
		t.Fatalf("expected unresolved")
	}
	if res.Stats != (scope.Stats{Matched: 2, Requested: 4, Missing: 2}) {
		t.Fatalf("stats %+v", res.Stats)
	}
}

func TestResolveExplicitIDs(t *testing.T) {
	r := scope.Resolver{Directory: directory()}
	res, err := r.Resolve(context.Background(), "u1", domain.Scope{TargetType: domain.TargetDomains, DomainIDs: []string{"dom_101", "dom_900"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.DomainIDs, []string{"dom_101"}) || !reflect.DeepEqual(res.MissingDomains, []string{"dom_900"}) {
		t.Fatalf("res %+v", res)
	}
}

func TestScopeCompleteness(t *testing.T) {
	inputs := [][]string{
		nil,
		{"prueba1.com"},
		{"prueba1.com", "prueba1.com"},
		{"a.com", "b.com", "PRUEBA1.COM"},
		{"", " prueba2.es "},
	}
	r := scope.Resolver{Directory: directory()}
	for _, names := range inputs {
		res, err := r.Resolve(context.Background(), "u1", domain.Scope{TargetType: domain.TargetDomains, Domains: names})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.DomainIDs)+len(res.MissingDomains) != len(names) {
			t.Fatalf("%v: %d ids + %d missing != %d", names, len(res.DomainIDs), len(res.MissingDomains), len(names))
		}
	}
}

func TestResolveErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := scope.Resolver{Directory: &fakeDirectory{err: boom}}.Resolve(context.Background(), "u1", domain.Scope{TargetType: domain.TargetAll})
	if !errors.Is(err, boom) {
		t.Fatalf("err %v", err)
	}
	if _, err := (scope.Resolver{Directory: directory()}).Resolve(context.Background(), "u1", domain.Scope{TargetType: "x"}); err == nil {
		t.Fatalf("expected error for invalid target type")
	}
}
