package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalogCSV(t *testing.T) {
	input := strings.Join([]string{
		"record_id,item_code,barcode,description,description_ext",
		"r1,A100,,Cola 330ml,",
		"r2,,5012345,Orange juice,1L carton",
	}, "\n")

	records, err := parseCatalogCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "A100", records[0].ItemCode)
	assert.Equal(t, "5012345", records[1].Barcode)
	assert.Equal(t, "1L carton", records[1].DescriptionExt)
}

func TestParseCatalogCSV_ReorderedColumns(t *testing.T) {
	input := strings.Join([]string{
		"Description,Record_ID",
		"Cola 330ml,r1",
	}, "\n")

	records, err := parseCatalogCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "Cola 330ml", records[0].Description)
}

func TestParseCatalogCSV_MissingRequiredColumn(t *testing.T) {
	input := "item_code,description\nA100,Cola"

	_, err := parseCatalogCSV(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_id")
}

func TestParseCatalogCSV_NoRows(t *testing.T) {
	input := "record_id,description\n"

	_, err := parseCatalogCSV(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data rows")
}
