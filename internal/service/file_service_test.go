package service_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/stretchr/testify/suite"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type FileServiceTestSuite struct {
	suite.Suite
	env   *env
	ctx   context.Context
	owner *models.User
}

func (s *FileServiceTestSuite) SetupTest() {
	s.env = newEnv(s.T())
	s.ctx = context.Background()
	s.owner = testutil.DefaultTestUser(s.T(), s.env.db)
}

func (s *FileServiceTestSuite) upload(name string, purpose service.UploadPurpose, body []byte) (*models.FileUpload, error) {
	return s.env.files.Upload(s.ctx, service.UploadInput{
		OwnerID:  s.owner.ID,
		FileName: name,
		Purpose:  purpose,
		Body:     bytes.NewReader(body),
	})
}

func (s *FileServiceTestSuite) onDisk(file *models.FileUpload) string {
	return filepath.Join(s.env.store.Root(), filepath.FromSlash(file.StoragePath))
}

func (s *FileServiceTestSuite) TestUploadAttachment() {
	file, err := s.upload("diagram.png", service.PurposeAttachment, pngHeader)
	s.Require().NoError(err)

	s.Equal("diagram.png", file.FileName)
	s.Equal("image/png", file.FileType)
	s.Equal(int64(len(pngHeader)), file.FileSize)
	s.True(strings.HasPrefix(file.StoragePath, "uploads/"+s.owner.ID.String()+"/"))
	s.Equal("http://files.test/"+file.StoragePath, file.URL)

	data, err := os.ReadFile(s.onDisk(file))
	s.Require().NoError(err)
	s.Equal(pngHeader, data)

	got, err := s.env.files.Get(s.ctx, file.ID)
	s.Require().NoError(err)
	s.Equal(file.URL, got.URL)
}

func (s *FileServiceTestSuite) TestUploadPlainTextDocument() {
	file, err := s.upload("../../notes.txt", service.PurposeAttachment, []byte("meeting notes\nsecond line\n"))
	s.Require().NoError(err)
	s.Equal("notes.txt", file.FileName)
	s.True(strings.HasPrefix(file.FileType, "text/plain"))
}

func (s *FileServiceTestSuite) TestRejectsDisallowedType() {
	elf := append([]byte("\x7fELF\x02\x01\x01\x00"), make([]byte, 64)...)
	_, err := s.upload("tool", service.PurposeAttachment, elf)
	s.ErrorIs(err, service.ErrValidation)

	var count int64
	s.env.db.Model(&models.FileUpload{}).Count(&count)
	s.Zero(count)
}

func (s *FileServiceTestSuite) TestRejectsEmptyAndOversize() {
	_, err := s.upload("empty.txt", service.PurposeAttachment, nil)
	s.ErrorIs(err, service.ErrValidation)

	big := bytes.Repeat([]byte("a"), service.MaxAttachmentSize+1)
	_, err = s.upload("big.txt", service.PurposeAttachment, big)
	s.ErrorIs(err, service.ErrValidation)

	exact := bytes.Repeat([]byte("a"), service.MaxAvatarSize+1)
	_, err = s.upload("big.png", service.PurposeAvatar, append(append([]byte{}, pngHeader...), exact...))
	s.ErrorIs(err, service.ErrValidation)
}

func (s *FileServiceTestSuite) TestAvatarMustBeImage() {
	_, err := s.upload("avatar.txt", service.PurposeAvatar, []byte("not an image"))
	s.Require().ErrorIs(err, service.ErrValidation)
	s.Equal("Avatar must be an image", service.AsError(err).Message)

	file, err := s.upload("me.png", service.PurposeAvatar, pngHeader)
	s.Require().NoError(err)
	s.True(strings.HasPrefix(file.StoragePath, "avatars/"))

	user, err := s.env.users.Get(s.ctx, s.owner.ID)
	s.Require().NoError(err)
	s.Equal(file.URL, user.AvatarURL)
}

func (s *FileServiceTestSuite) TestDeleteIsOwnerOnly() {
	file, err := s.upload("diagram.png", service.PurposeAttachment, pngHeader)
	s.Require().NoError(err)
	stranger := testutil.CreateTestUser(s.T(), s.env.db, "stranger", models.RoleEmployee)

	s.ErrorIs(s.env.files.Delete(s.ctx, stranger.ID, file.ID), service.ErrAccessDenied)
	s.FileExists(s.onDisk(file))

	s.Require().NoError(s.env.files.Delete(s.ctx, s.owner.ID, file.ID))
	s.NoFileExists(s.onDisk(file))

	_, err = s.env.files.Get(s.ctx, file.ID)
	s.ErrorIs(err, service.ErrFileNotFound)
	s.ErrorIs(s.env.files.Delete(s.ctx, s.owner.ID, file.ID), service.ErrFileNotFound)
}

func TestFileServiceTestSuite(t *testing.T) {
	suite.Run(t, new(FileServiceTestSuite))
}
