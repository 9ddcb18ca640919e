package port

// ChapterSource lists the chapter documents of one course directory.
type ChapterSource interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	RelPath string
	ModTime int64
	Size    int64
}
