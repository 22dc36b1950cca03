// Package scope resolves a rule scope into the concrete domain ids it targets.
package scope

import (
	"context"
	"fmt"
	"strings"

	"alertline/internal/domain"
)

// Directory lists a user's domains. nameFilter, when non-empty, keeps only
// domains whose name contains it (case-insensitive).
type Directory interface {
	ListDomains(ctx context.Context, userID, nameFilter string) ([]domain.Domain, error)
}

type Stats struct {
	Matched   int `json:"matched"`
	Requested int `json:"requested"`
	Missing   int `json:"missing"`
}

// Resolution is always expressed as an explicit domain id list.
type Resolution struct {
	TargetType     string   `json:"target_type"`
	DomainIDs      []string `json:"domain_ids"`
	MissingDomains []string `json:"missing_domains"`
	Stats          Stats    `json:"stats"`
}

// Resolved reports whether every requested domain was found.
func (r Resolution) Resolved() bool { return len(r.MissingDomains) == 0 }

type Resolver struct {
	Directory Directory
}

func (r Resolver) Resolve(ctx context.Context, userID string, s domain.Scope) (Resolution, error) {
	if r.Directory == nil {
		return Resolution{}, fmt.Errorf("scope: no domain directory")
	}
	domains, err := r.Directory.ListDomains(ctx, userID, "")
	if err != nil {
		return Resolution{}, fmt.Errorf("list domains: %w", err)
	}
	res := Resolution{TargetType: domain.TargetDomains, DomainIDs: []string{}, MissingDomains: []string{}}
	switch s.TargetType {
	case domain.TargetAll:
		for _, d := range domains {
			if d.Status == domain.DomainActive {
				res.DomainIDs = append(res.DomainIDs, d.ID)
			}
		}
		res.Stats.Requested = len(res.DomainIDs)
	case domain.TargetDomains:
		resolveNamed(&res, domains, s)
	case domain.TargetTags:
		want := map[string]bool{}
		for _, t := range s.Tags {
			want[strings.ToLower(t)] = true
		}
		for _, d := range domains {
			if d.Status != domain.DomainActive {
				continue
			}
			for _, t := range d.Tags {
				if want[strings.ToLower(t)] {
					res.DomainIDs = append(res.DomainIDs, d.ID)
					break
				}
			}
		}
		res.Stats.Requested = len(s.Tags)
	default:
		return Resolution{}, fmt.Errorf("scope: invalid target_type %q", s.TargetType)
	}
	res.Stats.Matched = len(res.DomainIDs)
	res.Stats.Missing = len(res.MissingDomains)
	return res, nil
}

// resolveNamed matches names case-insensitively in request order. Every
// requested entry lands in exactly one of DomainIDs or MissingDomains.
// Explicit ids are only checked when no names were given.
func resolveNamed(res *Resolution, domains []domain.Domain, s domain.Scope) {
	if len(s.Domains) == 0 {
		known := map[string]bool{}
		for _, d := range domains {
			known[d.ID] = true
		}
		for _, id := range s.DomainIDs {
			if known[id] {
				res.DomainIDs = append(res.DomainIDs, id)
			} else {
				res.MissingDomains = append(res.MissingDomains, id)
			}
		}
		res.Stats.Requested = len(s.DomainIDs)
		return
	}
	byName := map[string]string{}
	for _, d := range domains {
		byName[strings.ToLower(d.Name)] = d.ID
	}
	for _, name := range s.Domains {
		if id, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
			res.DomainIDs = append(res.DomainIDs, id)
		} else {
			res.MissingDomains = append(res.MissingDomains, name)
		}
	}
	res.Stats.Requested = len(s.Domains)
}
