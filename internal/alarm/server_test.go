package alarm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		scheduler   *mockScheduler
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = newMockRecognizer()
		scheduler = &mockScheduler{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		clock := &mockClock{now: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)}
		service := NewServiceWithDeps(db, recognizer, storage, &mockAction{}, DefaultConfig(), &mockIDGenerator{prefix: "id"}, clock, scheduler)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(filename, contentType string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/alarms", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) errorResponse {
		defer resp.Body.Close()
		var body errorResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	Describe("handleIndex", func() {
		It("should serve the page", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Analyze and Set Alarm"))
		})

		It("should reject other methods", func() {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("handleUploadImage", func() {
		When("the photo contains a time", func() {
			It("should return Created with the confirmation", func() {
				resp := upload("timer.jpg", "image/jpeg", []byte("fake image"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body analyzeResponse
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.Message).To(Equal("Task scheduled for 10:05"))
				Expect(body.Alarm.ExtractedTime).To(Equal("10:05"))
				Expect(scheduler.jobs).To(HaveLen(1))
			})
		})

		When("the photo has no time", func() {
			BeforeEach(func() {
				recognizer.text = "nothing to see"
			})

			It("should return Unprocessable Entity with the message", func() {
				resp := upload("timer.jpg", "image/jpeg", []byte("fake image"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				body := decodeError(resp)
				Expect(body.Error).To(Equal("No valid time found"))
				Expect(body.Kind).To(Equal(KindNoTimeFound))
				Expect(scheduler.jobs).To(BeEmpty())
			})
		})

		When("the recognizer fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("upstream down")
			})

			It("should return Bad Gateway", func() {
				resp := upload("timer.jpg", "image/jpeg", []byte("fake image"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(decodeError(resp).Error).To(Equal("Failed to extract text"))
			})
		})

		When("the scheduler fails", func() {
			BeforeEach(func() {
				scheduler.err = errors.New("stopped")
			})

			It("should return Internal Server Error", func() {
				resp := upload("timer.jpg", "image/jpeg", []byte("fake image"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp).Error).To(Equal("Failed to schedule task"))
			})
		})

		When("no file is sent", func() {
			It("should return Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/alarms", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Error).To(ContainSubstring("No photo was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/alarms", "text/plain", bytes.NewBufferString("hi"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleAnalyzeText", func() {
		It("should schedule from the posted text", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/alarms/text", "application/json", bytes.NewBufferString(`{"text":"out at 17:45"}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var body analyzeResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Alarm.ExtractedTime).To(Equal("17:45"))
		})

		It("should report invalid times", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/alarms/text", "application/json", bytes.NewBufferString(`{"text":"invalid 99:99 time"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(decodeError(resp).Kind).To(Equal(KindInvalidTime))
		})

		It("should reject malformed JSON", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/alarms/text", "application/json", bytes.NewBufferString(`{`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleListAlarms", func() {
		When("alarms exist", func() {
			BeforeEach(func() {
				db.alarms["a"] = &Alarm{ID: "a", Status: StatusPending}
				db.alarms["b"] = &Alarm{ID: "b", Status: StatusFired}
			})

			It("should return all alarms", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/alarms")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var alarms []*Alarm
				Expect(json.NewDecoder(resp.Body).Decode(&alarms)).To(Succeed())
				Expect(alarms).To(HaveLen(2))
			})
		})

		When("no alarms exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/alarms")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(MatchJSON(`[]`))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/alarms")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleGetAlarm", func() {
		It("should return the alarm", func() {
			db.alarms["x"] = &Alarm{ID: "x", ExtractedTime: "08:00"}
			resp, err := http.Get(ghttpServer.URL() + "/api/alarms/x")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var alarm Alarm
			Expect(json.NewDecoder(resp.Body).Decode(&alarm)).To(Succeed())
			Expect(alarm.ExtractedTime).To(Equal("08:00"))
		})

		It("should return Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/alarms/nope")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetAlarmFile", func() {
		It("should return the image with its content type", func() {
			db.alarms["f"] = &Alarm{ID: "f", Filename: "f.png", ContentType: "image/png"}
			storage.files["f.png"] = []byte("png")
			resp, err := http.Get(ghttpServer.URL() + "/api/alarms/f/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})
	})

	Describe("handleDeleteAlarm", func() {
		It("should cancel and delete the alarm", func() {
			db.alarms["del"] = &Alarm{ID: "del", Status: StatusPending}
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/alarms/del", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(scheduler.cancelled).To(Equal([]string{"del"}))
		})

		It("should return Not Found for unknown IDs", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/alarms/nope", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/alarms", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/alarms")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/alarms", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/alarms", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})

var _ = Describe("detectContentType", func() {
	DescribeTable("content types",
		func(header, filename, expected string) {
			Expect(detectContentType(header, filename)).To(Equal(expected))
		},
		Entry("explicit header", "IMAGE/PNG", "x.jpg", "image/png"),
		Entry("octet stream falls back to extension", "application/octet-stream", "x.HEIC", "image/heic"),
		Entry("missing header, pdf", "", "scan.pdf", "application/pdf"),
		Entry("unknown", "", "notes.txt", "application/octet-stream"),
	)
})
