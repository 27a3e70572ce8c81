package msclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
)

func TestMockClient(t *testing.T) {
	t.Run("mocked upload", func(t *testing.T) {
		m := new(MockClient)
		m.On("Upload", mock.Anything, "talk.mp4", mock.Anything).Return("code-1", nil)

		var api ClientInterface = m
		code, err := api.Upload(context.Background(), "talk.mp4")
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if code != "code-1" {
			t.Errorf("Upload() = %q, want %q", code, "code-1")
		}
		m.AssertExpectations(t)
	})

	t.Run("mocked failure", func(t *testing.T) {
		m := new(MockClient)
		m.On("CheckServer", mock.Anything).Return(nil, errors.New("down"))

		if _, err := m.CheckServer(context.Background()); err == nil {
			t.Error("CheckServer() should return the mocked error")
		}
		m.AssertExpectations(t)
	})
}
