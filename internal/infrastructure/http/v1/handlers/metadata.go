package handlers

import (
	"github.com/gin-gonic/gin"

	"analytica/internal/domain/descriptor"
	"analytica/internal/infrastructure/http/v1/dto"
	"analytica/internal/infrastructure/storage/postgres"
)

// MetadataHandler exposes the registered entity catalog.
type MetadataHandler struct {
	BaseHandler
	registrar *postgres.Registrar
}

// NewMetadataHandler creates a MetadataHandler over the schema registrar.
func NewMetadataHandler(registrar *postgres.Registrar) *MetadataHandler {
	return &MetadataHandler{registrar: registrar}
}

// List handles GET /api/v1/reports.
func (h *MetadataHandler) List(c *gin.Context) {
	descriptors := h.registrar.Descriptors()

	entities := make([]dto.EntityInfo, 0, len(descriptors))
	for _, d := range descriptors {
		entities = append(entities, describeEntity(d))
	}

	h.OK(c, gin.H{"entities": entities})
}

// Get handles GET /api/v1/reports/:entity.
func (h *MetadataHandler) Get(c *gin.Context) {
	d, err := h.registrar.Descriptor(c.Param("entity"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, describeEntity(d))
}

func describeEntity(d *descriptor.Descriptor) dto.EntityInfo {
	attrs := d.Attributes()
	infos := make([]dto.AttributeInfo, 0, len(attrs))
	for _, a := range attrs {
		var options []dto.EnumOption
		for _, o := range a.Options {
			options = append(options, dto.EnumOption{Code: o.Code, Label: o.Label})
		}
		infos = append(infos, dto.AttributeInfo{
			Name:       a.Name,
			Label:      a.Label,
			Type:       string(a.Type),
			RefEntity:  a.RefEntity,
			Options:    options,
			Aggregator: string(a.Aggregator),
		})
	}
	return dto.EntityInfo{
		Name:         d.Name(),
		ReadOnly:     d.IsReadOnly(),
		DefaultOrder: d.DefaultOrder(),
		Attributes:   infos,
	}
}
