package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNotebook = `{
 "cells": [
  {"cell_type": "code", "source": ["print(1)\n"], "metadata": {}, "outputs": [], "execution_count": null},
  {"cell_type": "markdown", "source": ["# Title\n"], "metadata": {}}
 ],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func writeNotebook(t *testing.T, tc *Context) string {
	t.Helper()
	path := filepath.Join(tc.Sandbox.WorkDir(), "nb.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(sampleNotebook), 0644))
	return path
}

func readNotebook(t *testing.T, path string) notebook {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var nb notebook
	require.NoError(t, json.Unmarshal(data, &nb))
	return nb
}

func TestNotebookEditReplace(t *testing.T) {
	tc := newTestContext(t)
	path := writeNotebook(t, tc)

	_, err := NewNotebookEditTool().Execute(context.Background(), raw(t, NotebookEditInput{
		FilePath:  "nb.ipynb",
		CellIndex: 0,
		EditMode:  "replace",
		Source:    "print(2)\nprint(3)\n",
	}), tc)
	require.NoError(t, err)

	nb := readNotebook(t, path)
	require.Len(t, nb.Cells, 2)
	src := nb.Cells[0]["source"].([]any)
	assert.Equal(t, "print(2)\n", src[0])
	assert.Equal(t, "print(3)\n", src[1])
}

func TestNotebookEditInsert(t *testing.T) {
	tc := newTestContext(t)
	path := writeNotebook(t, tc)

	_, err := NewNotebookEditTool().Execute(context.Background(), raw(t, NotebookEditInput{
		FilePath:  "nb.ipynb",
		CellIndex: 1,
		EditMode:  "insert",
		Source:    "x = 5",
		CellType:  "code",
	}), tc)
	require.NoError(t, err)

	nb := readNotebook(t, path)
	require.Len(t, nb.Cells, 3)
	assert.Equal(t, "code", nb.Cells[1]["cell_type"])
	assert.NotNil(t, nb.Cells[1]["outputs"])
}

func TestNotebookEditDelete(t *testing.T) {
	tc := newTestContext(t)
	path := writeNotebook(t, tc)

	_, err := NewNotebookEditTool().Execute(context.Background(), raw(t, NotebookEditInput{
		FilePath:  "nb.ipynb",
		CellIndex: 0,
		EditMode:  "delete",
	}), tc)
	require.NoError(t, err)

	nb := readNotebook(t, path)
	require.Len(t, nb.Cells, 1)
	assert.Equal(t, "markdown", nb.Cells[0]["cell_type"])
}

func TestNotebookEditRequiresIpynbSuffix(t *testing.T) {
	tc := newTestContext(t)

	_, err := NewNotebookEditTool().Execute(context.Background(), raw(t, NotebookEditInput{
		FilePath:  "data.json",
		CellIndex: 0,
		EditMode:  "delete",
	}), tc)
	assert.ErrorContains(t, err, ".ipynb")
}

func TestNotebookEditIndexOutOfRange(t *testing.T) {
	tc := newTestContext(t)
	writeNotebook(t, tc)

	_, err := NewNotebookEditTool().Execute(context.Background(), raw(t, NotebookEditInput{
		FilePath:  "nb.ipynb",
		CellIndex: 9,
		EditMode:  "replace",
		Source:    "x",
	}), tc)
	assert.ErrorContains(t, err, "out of range")
}
