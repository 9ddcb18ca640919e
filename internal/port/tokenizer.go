package port

// Tokenizer turns text into index terms for the keyword branch.
type Tokenizer interface {
	Tokenize(text string) []string
}
