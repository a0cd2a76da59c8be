package polygon

// Problem is one entry of a problems.list response.
type Problem struct {
	ID            int    `json:"id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Deleted       bool   `json:"deleted"`
	Favourite     bool   `json:"favourite"`
	AccessType    string `json:"accessType"`
	Revision      int    `json:"revision"`
	Modified      bool   `json:"modified"`
	LatestPackage *int   `json:"latestPackage,omitempty"`
}

// Package is one entry of a problem.packages response.
type Package struct {
	ID                  int    `json:"id"`
	Revision            int    `json:"revision"`
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
	State               string `json:"state"`
	Comment             string `json:"comment"`
	Type                string `json:"type"`
}

// PackageStateReady marks a package that finished building and can be
// downloaded.
const PackageStateReady = "READY"

// PackageTypeLinux is the package flavor the judge consumes.
const PackageTypeLinux = "linux"
