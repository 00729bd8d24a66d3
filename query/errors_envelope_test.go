package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-connections/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestGetConnectionMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetConnectionMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ConnectionErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ConnectionErrorBadInput, rich.TextCode)
	}
}

func TestGetConnectionQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetConnectionQuery
	_, err := qry.Query(context.Background(), GetConnectionMessage{})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ConnectionErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ConnectionErrorInternal, rich.TextCode)
	}
}
