package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"customstream/internal/models"
)

func createTestStream(t *testing.T, store *Store, streamID string) *models.Stream {
	t.Helper()
	s, err := store.Streams.Upsert(context.Background(), store.Queryer(), &models.Stream{
		StreamID: streamID,
		Path:     "streams/v1/" + streamID + ".json",
		Datatype: "image-downloads",
		Format:   "products:1.0",
	})
	require.NoError(t, err)
	return s
}

func TestImageRepoCreateAndGetByStreamAndProduct(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()

	stream := createTestStream(t, store, "com.example.maas:v3:download")

	img, err := store.Images.Create(ctx, q, &models.Image{
		StreamID:  stream.ID,
		ProductID: "com.example.maas:jammy:amd64",
		ImageType: models.ImageTypeMirrored,
		Status:    models.ImageStatusMirroring,
		Meta:      models.Meta{"release": "jammy"},
	})
	require.NoError(t, err)
	require.NotZero(t, img.ID)

	got, err := store.Images.GetByStreamAndProduct(ctx, q, stream.ID, "com.example.maas:jammy:amd64")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, img.ID, got.ID)
	require.Equal(t, "jammy", got.Meta["release"])
}

func TestImageRepoCountMirroring(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()
	stream := createTestStream(t, store, "com.example.maas:v3:download")

	count, err := store.Images.CountMirroring(ctx, q, "com.example.maas:jammy:amd64")
	require.NoError(t, err)
	require.Equal(t, 0, count)

	_, err = store.Images.Create(ctx, q, &models.Image{
		StreamID:  stream.ID,
		ProductID: "com.example.maas:jammy:amd64",
		ImageType: models.ImageTypeMirrored,
		Status:    models.ImageStatusMirroring,
		Meta:      models.Meta{},
	})
	require.NoError(t, err)

	count, err = store.Images.CountMirroring(ctx, q, "com.example.maas:jammy:amd64")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestImageRepoUpdateStatusAndMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()
	stream := createTestStream(t, store, "com.example.maas:v3:download")

	img, err := store.Images.Create(ctx, q, &models.Image{
		StreamID:  stream.ID,
		ProductID: "com.example.maas:jammy:amd64",
		ImageType: models.ImageTypeMirrored,
		Status:    models.ImageStatusMirroring,
		Meta:      models.Meta{"status_detail": "downloading"},
	})
	require.NoError(t, err)

	readyMeta := img.Meta.Clone()
	delete(readyMeta, "status_detail")
	require.NoError(t, store.Images.UpdateStatusAndMeta(ctx, q, img.ID, models.ImageStatusReady, readyMeta))

	got, err := store.Images.GetByID(ctx, q, img.ID)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusReady, got.Status)
	_, hasDetail := got.Meta["status_detail"]
	require.False(t, hasDetail)
}

func TestImageRepoListByStreamIDOrdersByProductID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := store.Queryer()
	stream := createTestStream(t, store, "com.example.maas:v3:download")

	for _, productID := range []string{"zebra", "apple", "mango"} {
		_, err := store.Images.Create(ctx, q, &models.Image{
			StreamID:  stream.ID,
			ProductID: productID,
			ImageType: models.ImageTypeMirrored,
			Status:    models.ImageStatusReady,
			Meta:      models.Meta{},
		})
		require.NoError(t, err)
	}

	images, err := store.Images.ListByStreamID(ctx, q, stream.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	require.Equal(t, []string{"apple", "mango", "zebra"}, []string{
		images[0].ProductID, images[1].ProductID, images[2].ProductID,
	})
}
