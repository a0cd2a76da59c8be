package statement

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/pkgarchive"
)

var (
	markdownImage = regexp.MustCompile(`!\[image\]\((.+?)\)`)
	imgTag        = regexp.MustCompile(`<\s*img[^>]*>`)
	imgSrc        = regexp.MustCompile(`src\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// ImageIngester moves statement images from the package into media storage.
// Images are content-addressed: two identical files share one upload, both
// within a statement and across statements of the same job.
type ImageIngester struct {
	archive     *pkgarchive.Archive
	media       *judge.MediaStore
	problemCode string
	uploadID    string
	logger      *logrus.Entry

	cache map[string]string // sha1 of content → public URL
}

// NewImageIngester creates an ingester storing under
// problems/<code>/<uploadID>/.
func NewImageIngester(archive *pkgarchive.Archive, media *judge.MediaStore, problemCode, uploadID string, logger *logrus.Entry) *ImageIngester {
	return &ImageIngester{
		archive:     archive,
		media:       media,
		problemCode: problemCode,
		uploadID:    uploadID,
		logger:      logger,
		cache:       map[string]string{},
	}
}

// UploadDir returns the media-relative directory this job uploads into.
func (i *ImageIngester) UploadDir() string {
	return fmt.Sprintf("problems/%s/%s", i.problemCode, i.uploadID)
}

// Uploaded reports whether this job stored any media.
func (i *ImageIngester) Uploaded() bool {
	return len(i.cache) > 0
}

// Process rewrites every image occurrence in text to a public media URL,
// uploading each distinct image once. Paths are resolved relative to the
// statement folder inside the package.
func (i *ImageIngester) Process(statementFolder, text string) (string, error) {
	for _, imagePath := range uniqueMatches(markdownImage, text, 1) {
		url, err := i.save(statementFolder, imagePath)
		if err != nil {
			return "", err
		}
		text = strings.ReplaceAll(text, fmt.Sprintf("![image](%s)", imagePath), fmt.Sprintf("![image](%s)", url))
	}

	for _, tag := range uniqueMatches(imgTag, text, 0) {
		src := imgSrc.FindStringSubmatch(tag)
		if src == nil {
			continue
		}
		imagePath := src[1]
		if imagePath == "" {
			imagePath = src[2]
		}
		url, err := i.save(statementFolder, imagePath)
		if err != nil {
			return "", err
		}
		text = strings.ReplaceAll(text, tag, strings.ReplaceAll(tag, imagePath, url))
	}

	return text, nil
}

func (i *ImageIngester) save(statementFolder, imagePath string) (string, error) {
	member := path.Clean(path.Join(statementFolder, imagePath))
	content, err := i.archive.Read(member)
	if err != nil {
		return "", err
	}

	digest := sha1.Sum(content)
	key := hex.EncodeToString(digest[:])
	if url, ok := i.cache[key]; ok {
		return url, nil
	}

	stored := fmt.Sprintf("%s/%s_%s", i.UploadDir(), key, path.Base(imagePath))
	if err := i.media.Save(stored, bytes.NewReader(content)); err != nil {
		return "", err
	}
	i.logger.WithField("image", member).Info("Uploaded statement image")

	url := i.media.URL(stored)
	i.cache[key] = url
	return url, nil
}

func uniqueMatches(re *regexp.Regexp, text string, group int) []string {
	seen := map[string]bool{}
	var matches []string
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		value := match[group]
		if !seen[value] {
			seen[value] = true
			matches = append(matches, value)
		}
	}
	return matches
}
