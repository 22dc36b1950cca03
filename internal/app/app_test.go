package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertline/internal/app"
	"alertline/internal/config"
	"alertline/internal/flow"
)

func TestOpenRunsAConversation(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Metrics == nil {
		t.Fatalf("metrics enabled by default")
	}
	if _, err := a.Repo.AddDomain(ctx, "u1", "acme.es", nil, ""); err != nil {
		t.Fatalf("add domain: %v", err)
	}

	e := a.Engine
	e.ProcessTurn(ctx, "u1", "s1", "Quiero una alerta 'Expira Pronto' para acme.es avisando a soc@acme.com 15 días antes")
	e.ProcessTurn(ctx, "u1", "s1", "diaria")
	if a.Drafts.Len() != 1 {
		t.Fatalf("drafts %d", a.Drafts.Len())
	}
	reply := e.ProcessTurn(ctx, "u1", "s1", "sí")
	if reply.Error != nil || reply.State != flow.Done {
		t.Fatalf("reply %+v", reply)
	}
	detail, err := a.Repo.GetRule(ctx, "u1", reply.RuleID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if len(detail.Targets) != 1 || detail.Targets[0].DomainName != "acme.es" || detail.Job == nil {
		t.Fatalf("detail %+v", detail)
	}
	if !strings.Contains(detail.Rule.LogicJSON, `"at_time":"09:00"`) {
		t.Fatalf("logic %s", detail.Rule.LogicJSON)
	}
}

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	workspace := t.TempDir()
	yml := "draft:\n  ttl: 5m\ndsl:\n  default_at_time: \"07:30\"\nmetrics:\n  enabled: false\n"
	if err := os.WriteFile(filepath.Join(workspace, "alertline.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := app.Open(context.Background(), workspace, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Metrics != nil || a.Drafts.TTL != 5*time.Minute || a.Engine.Validator.DefaultAtTime != "07:30" {
		t.Fatalf("config not applied: ttl=%s at=%s", a.Drafts.TTL, a.Engine.Validator.DefaultAtTime)
	}
	if a.Config.Server.BasePath != config.Default().Server.BasePath {
		t.Fatalf("defaults lost: %+v", a.Config.Server)
	}
}
