package model

// Page — страница результатов с метаданными пагинации.
type Page[T any] struct {
	Items         []T
	Page          int
	Size          int
	TotalElements int
	TotalPages    int
	First         bool
	Last          bool
	Empty         bool
}

// NewPage вырезает страницу page размера size из all.
// Страница за пределами набора даёт пустой Items и Empty = true.
// size должен быть > 0, page >= 0 — проверка на вызывающей стороне.
func NewPage[T any](all []T, page, size int) Page[T] {
	total := len(all)
	totalPages := (total + size - 1) / size

	items := []T{}
	// page сравнивается с числом страниц до умножения: page*size может переполниться
	if page < totalPages {
		start := page * size
		end := min(start+size, total)
		items = all[start:end]
	}

	return Page[T]{
		Items:         items,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		First:         page == 0,
		Last:          page >= totalPages-1,
		Empty:         len(items) == 0,
	}
}
