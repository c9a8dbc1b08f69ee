package db

import (
	"context"
	"testing"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Errorf("expected nil tx from empty context, got %v", tx)
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), TxKey, "not a tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Errorf("expected nil tx when context value has wrong type, got %v", tx)
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	conn := ConnFromContext(context.Background())
	if conn != nil {
		t.Errorf("expected nil conn from empty context, got %v", conn)
	}
}
