package repository

import (
	"context"
	"errors"

	"smallbiznis-payout/pkg/db/option"

	"gorm.io/gorm"
)

const batchSize = 200

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when no row matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	BatchUpdate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

type gormRepository[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &gormRepository[T]{db: db}
}

func (r *gormRepository[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &gormRepository[T]{db: tx}
}

func (r *gormRepository[T]) scoped(ctx context.Context, query *T, opts []option.QueryOption) *gorm.DB {
	q := r.db.WithContext(ctx).Model(new(T))
	if query != nil {
		q = q.Where(query)
	}
	for _, opt := range opts {
		q = opt(q)
	}
	return q
}

func (r *gormRepository[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []*T
	if err := r.scoped(ctx, query, opts).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out T
	if err := r.scoped(ctx, query, opts).Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *gormRepository[T]) Create(ctx context.Context, resource *T) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *gormRepository[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(new(T)).Where("id = ?", resourceID).Updates(resource).Error
}

func (r *gormRepository[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	if len(resources) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(resources, batchSize).Error
}

func (r *gormRepository[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, res := range resources {
			if err := tx.Save(res).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormRepository[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var n int64
	if err := r.scoped(ctx, query, opts).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
