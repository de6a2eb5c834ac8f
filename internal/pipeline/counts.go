package pipeline

import (
	"sort"

	"ecovision-go/pkg/models"
)

// ClassCounts накопительный подсчет детекций по имени класса
type ClassCounts map[string]int

// Add учитывает одну детекцию
func (c ClassCounts) Add(className string) {
	c[className]++
}

// AddAll учитывает каждую детекцию из списка
func (c ClassCounts) AddAll(detections []models.Detection) {
	for _, d := range detections {
		c.Add(d.ClassName)
	}
}

// Total возвращает сумму по всем классам
func (c ClassCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Rows возвращает строки таблицы: по убыванию количества, затем по имени
func (c ClassCounts) Rows() []models.ClassCountRow {
	rows := make([]models.ClassCountRow, 0, len(c))
	for name, n := range c {
		rows = append(rows, models.ClassCountRow{Class: name, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Class < rows[j].Class
	})
	return rows
}

// VideoRows то же, что Rows, в формате таблицы итогов по видео
func (c ClassCounts) VideoRows() []models.VideoClassCountRow {
	rows := c.Rows()
	out := make([]models.VideoClassCountRow, len(rows))
	for i, r := range rows {
		out[i] = models.VideoClassCountRow{Class: r.Class, TotalCount: r.Count}
	}
	return out
}
