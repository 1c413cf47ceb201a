package gemini

// GJSON paths into the StreamGenerate response body. The frontend speaks
// positional arrays, not keyed objects; these constants centralize the
// magic indices so format drift needs one change point.
const (
	pathMetadataCID = "1.0"
	pathMetadataRID = "1.1"
	pathCandList    = "4"
	pathErrorDetail = "0.5.2.0.1.0"

	// Relative to one candidate object.
	pathCandRCID     = "0"
	pathCandText     = "1.0"
	pathCandTextAlt  = "22.0"
	pathCandThoughts = "37.0.0"
	pathCandImages   = "12.7.0"

	// Relative to one generated-image object.
	pathImgURL   = "0.3.3"
	pathImgTitle = "3.6"
)
