package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestAlreadyExists(t *testing.T) {
	exists := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "QueueAlreadyExists"}
	if !alreadyExists(fmt.Errorf("create: %w", exists), "QueueAlreadyExists") {
		t.Fatalf("expected wrapped conflict to be recognised")
	}
	if alreadyExists(exists, "TableAlreadyExists") {
		t.Fatalf("different error code must not match")
	}
	if alreadyExists(errors.New("boom"), "QueueAlreadyExists") || alreadyExists(nil, "QueueAlreadyExists") {
		t.Fatalf("non-service errors must not match")
	}
}
