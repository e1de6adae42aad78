// Package repository holds the gorm data access layer. Lookups return
// (nil, nil) when the row does not exist.
package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func first[T any](q *gorm.DB) (*T, error) {
	var row T
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// insertIgnore inserts row unless it violates a unique constraint on cols and
// reports whether a row was written.
func insertIgnore(db *gorm.DB, row any, cols ...string) (bool, error) {
	columns := make([]clause.Column, len(cols))
	for i, c := range cols {
		columns[i] = clause.Column{Name: c}
	}
	res := db.Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: columns, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
