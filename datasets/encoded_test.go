package datasets

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

func sampleEncoded(name string, ids ...string) *EncodedDataset {
	d := &EncodedDataset{Name: name, FeatureNames: []string{"num__a", "cat__b_x", "cat__b_y"}}
	for i, id := range ids {
		f := float32(i)
		d.X = append(d.X, []float32{f, 1, 0})
		d.Y = append(d.Y, 10*f)
		d.IDs = append(d.IDs, id)
	}
	return d
}

func TestEncodedBatchAndTensors(t *testing.T) {
	d := sampleEncoded("train", "a", "a", "b")
	require.NoError(t, d.Validate())
	assert.Equal(t, 3, d.Width())

	in, y, err := d.Batch([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1, 0}, {0, 1, 0}}, in)
	assert.Equal(t, []float32{20, 0}, y)

	_, _, err = d.Batch([]int{3})
	assert.Error(t, err)

	inT, yT, err := d.Tensors([]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, inT.Shape().Dimensions)
	assert.Equal(t, []int{3}, yT.Shape().Dimensions)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}, {2, 1, 0}}, inT.Value())
	assert.Equal(t, []float32{0, 10, 20}, yT.Value())
}

func TestEmptySplitKeepsWidth(t *testing.T) {
	d := sampleEncoded("val")
	require.NoError(t, d.Validate())
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 3, d.Width())

	b, err := MakeBatchFlat(nil, nil, d.Width())
	require.NoError(t, err)
	assert.Equal(t, 0, b.BatchSize)
}

func TestValidateMisaligned(t *testing.T) {
	d := sampleEncoded("train", "a", "b")
	d.Y = d.Y[:1]
	assert.True(t, errors.Is(d.Validate(), failure.ErrDataIntegrity))

	d = sampleEncoded("train", "a", "b")
	d.X[1] = d.X[1][:2]
	assert.True(t, errors.Is(d.Validate(), failure.ErrDataIntegrity))
}

func TestCheckCompatible(t *testing.T) {
	train := sampleEncoded("train", "a")
	val := sampleEncoded("val", "b")
	require.NoError(t, CheckCompatible(train, val))

	val.FeatureNames = []string{"num__a", "cat__b_y", "cat__b_x"}
	err := CheckCompatible(train, val)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))

	narrow := &EncodedDataset{Name: "test", FeatureNames: []string{"num__a"}}
	assert.True(t, errors.Is(CheckCompatible(train, narrow), failure.ErrDataIntegrity))
}

func TestCheckDisjoint(t *testing.T) {
	require.NoError(t, CheckDisjoint(sampleEncoded("train", "a", "a"), sampleEncoded("val", "b")))
	err := CheckDisjoint(sampleEncoded("train", "a"), sampleEncoded("test", "c", "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[Label]*EncodedDataset{
		LabelTrain: sampleEncoded("train", "a", "a", "b"),
		LabelVal:   sampleEncoded("val"),
		LabelTest:  sampleEncoded("test", "c"),
	}
	for l, d := range want {
		require.NoError(t, SaveArchive(filepath.Join(dir, ArchiveName(l)), d))
	}

	train, val, test, err := LoadSplits(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(want[LabelTrain], train); diff != "" {
		t.Fatalf("train mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, val.Len())
	assert.Equal(t, 3, val.Width())
	assert.Equal(t, []string{"c"}, test.IDs)
}

func TestLoadSplitsRejectsLeak(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveArchive(filepath.Join(dir, ArchiveName(LabelTrain)), sampleEncoded("train", "a")))
	require.NoError(t, SaveArchive(filepath.Join(dir, ArchiveName(LabelVal)), sampleEncoded("val", "b")))
	require.NoError(t, SaveArchive(filepath.Join(dir, ArchiveName(LabelTest)), sampleEncoded("test", "a")))

	_, _, _, err := LoadSplits(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}
