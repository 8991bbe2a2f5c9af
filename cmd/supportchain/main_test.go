package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"support-chain/internal/domain"
	"support-chain/internal/usecase"
)

func TestFormatFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "stage failure",
			err:  &usecase.Error{Code: usecase.ErrorHTTP, Stage: domain.StageCategorySelection, Err: errors.New("unexpected status 503")},
			want: "stage 3 (Category Selection) failed: HTTP_FAILURE: unexpected status 503",
		},
		{
			name: "reason only",
			err:  &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_query"},
			want: "INVALID_INPUT: empty_query",
		},
		{
			name: "untyped",
			err:  errors.New("boom"),
			want: "INTERNAL: boom",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, formatFailure(tc.err))
		})
	}
}

func TestReadQuery(t *testing.T) {
	var out bytes.Buffer
	q, err := readQuery(strings.NewReader("my card was declined\nignored\n"), &out)
	require.NoError(t, err)
	require.Equal(t, "my card was declined", q)
	require.Equal(t, "Enter your query: ", out.String())

	q, err = readQuery(strings.NewReader("no newline"), &out)
	require.NoError(t, err)
	require.Equal(t, "no newline", q)

	_, err = readQuery(strings.NewReader(""), &out)
	require.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, domain.ChainResult{
		RunID:   "run-1",
		Model:   "m",
		Outputs: []string{"a", "b", "c", "d", "e"},
	})
	s := out.String()
	require.Contains(t, s, "--- Stage 1: Intent Summary ---\na\n")
	require.Contains(t, s, "--- Stage 5: Response Draft ---\ne\n")
	require.Less(t, strings.Index(s, "Stage 2"), strings.Index(s, "Stage 3"))
}

func TestRun_MissingCredentialExitsBeforeAnyCall(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("API_KEY_VAR", "SUPPORT_CHAIN_CLI_TEST_KEY")
	t.Setenv("SUPPORT_CHAIN_CLI_TEST_KEY", "")
	t.Setenv("CREDENTIALS_FILE", filepath.Join(dir, "absent.env"))
	t.Setenv("COMPLETION_ENDPOINT", "http://127.0.0.1:1/v1")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-env", filepath.Join(dir, "none.env"), "hello"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "CREDENTIAL_MISSING")
	require.Empty(t, stdout.String())
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-nope"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 2, code)
}
