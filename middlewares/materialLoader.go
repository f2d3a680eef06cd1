package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/packing_backend/models"
	"gorm.io/gorm"
)

type materialReader struct {
	db *gorm.DB
}

func (r *materialReader) getMaterials(ctx context.Context, ids []int) []*dataloader.Result[*models.Material] {
	var results []models.Material
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Material](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetMaterial(ctx context.Context, id int) (*models.Material, error) {
	return For(ctx).materialLoader.Load(ctx, id)()
}

func GetMaterials(ctx context.Context, ids []int) ([]*models.Material, []error) {
	return For(ctx).materialLoader.LoadMany(ctx, ids)()
}
