package testutil

import (
	"fmt"

	"boneguide-go/internal/guide"
)

// Image URLs referenced by SampleTree.
const (
	SampleLeafImageURL    = "https://cdn.example.org/img/forearm.jpg"
	SampleContentImageURL = "https://cdn.example.org/img/radius.png"
)

// SampleTree builds a published project named version for the hospital:
//
//	1 Upper limb
//	  10 Forearm
//	    100 Distal radius  (leaf image, image in content)
//	    101 Radial shaft   (plain content)
//	2 Lower limb
//	  20 Ankle
//	    200 Weber B        (malformed content)
//
// Node IDs are offset by hospitalID*10000 so several hospitals can coexist.
// An unpublished project is included and must be ignored.
func SampleTree(hospitalID int64, version string) *guide.HospitalTree {
	id := func(n int64) int64 { return hospitalID*10000 + n }
	crumb := func(n int64, title string) guide.Crumb { return guide.Crumb{ID: id(n), Title: title} }
	leafImage := SampleLeafImageURL

	return &guide.HospitalTree{
		Hospital: guide.Hospital{ID: hospitalID, Name: fmt.Sprintf("Hospital %d", hospitalID)},
		Projects: []guide.Project{
			{
				ID:          id(900),
				Name:        version,
				IsPublished: true,
				Nodes: []guide.Node{
					{
						ID:    id(1),
						Title: "Upper limb",
						ChildNodes: []guide.Node{
							{
								ID:         id(10),
								Title:      "Forearm",
								Breadcrumb: []guide.Crumb{crumb(1, "Upper limb")},
								ChildNodes: []guide.Node{
									{
										ID:         id(100),
										Title:      "Distal radius",
										Image:      &leafImage,
										Content:    ImageDoc("Cast for six weeks.", SampleContentImageURL),
										Breadcrumb: []guide.Crumb{crumb(1, "Upper limb"), crumb(10, "Forearm")},
									},
									{
										ID:         id(101),
										Title:      "Radial shaft",
										Content:    TextDoc("Refer to orthopaedics."),
										Breadcrumb: []guide.Crumb{crumb(1, "Upper limb"), crumb(10, "Forearm")},
									},
								},
							},
						},
					},
					{
						ID:    id(2),
						Title: "Lower limb",
						ChildNodes: []guide.Node{
							{
								ID:         id(20),
								Title:      "Ankle",
								Breadcrumb: []guide.Crumb{crumb(2, "Lower limb")},
								ChildNodes: []guide.Node{
									{
										ID:         id(200),
										Title:      "Weber B",
										Content:    "{bad",
										Breadcrumb: []guide.Crumb{crumb(2, "Lower limb"), crumb(20, "Ankle")},
									},
								},
							},
						},
					},
				},
			},
			{
				ID:          id(800),
				Name:        "draft",
				IsPublished: false,
				Nodes: []guide.Node{
					{ID: id(3), Title: "Draft category"},
				},
			},
		},
	}
}

// SampleNodeID returns the node ID SampleTree uses for n in hospitalID.
func SampleNodeID(hospitalID, n int64) int64 {
	return hospitalID*10000 + n
}

// TextDoc returns a one-paragraph content document.
func TextDoc(text string) string {
	return fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":%q}]}]}`, text)
}

// ImageDoc returns a content document with a paragraph followed by an image.
func ImageDoc(text, src string) string {
	return fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":%q}]},{"type":"image","attrs":{"src":%q}}]}`, text, src)
}
