package alarm

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "images"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name      string
			savedPath string
			err       error
		)

		JustBeforeEach(func() {
			savedPath, err = storage.Save(name, []byte("image bytes"))
		})

		When("the name is a plain file name", func() {
			BeforeEach(func() {
				name = "a1_photo.jpg"
			})

			It("should return the stored name", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal(name))
			})

			It("should write the file to disk", func() {
				Expect(filepath.Join(tmpDir, "images", name)).To(BeAnExistingFile())
			})
		})

		When("the name tries to escape the directory", func() {
			BeforeEach(func() {
				name = "../escape.jpg"
			})

			It("returns ErrInvalidPath", func() {
				Expect(err).To(MatchError(ErrInvalidPath))
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				name = ""
			})

			It("returns ErrInvalidPath", func() {
				Expect(err).To(MatchError(ErrInvalidPath))
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			It("should return its contents", func() {
				_, err := storage.Save("g.png", []byte("png data"))
				Expect(err).NotTo(HaveOccurred())

				data, err := storage.Get("g.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png data"))
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("d.png", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete("d.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "images", "d.png")).NotTo(BeAnExistingFile())
		})

		It("should not fail for missing files", func() {
			Expect(storage.Delete("missing.png")).To(Succeed())
		})
	})
})
