// Package rag holds the retrieval-augmented generation core: the recursive
// text splitter used at ingestion time, the retriever that turns a question
// into its nearest chunks, and the prompt assembler that stuffs those chunks
// into the instruction sent to the answer generator.
//
// Embedding models and vector stores are consumed through the Embedder,
// VectorIndex and IndexWriter interfaces; concrete implementations live in
// services/embeddings and repositories.
package rag
