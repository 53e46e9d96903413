package compiledb

import lsp "github.com/sourcegraph/go-lsp"

func docIdent(uri string) lsp.TextDocumentIdentifier {
	return lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri)}
}
