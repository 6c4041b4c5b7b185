package transfer

import (
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Encryptor performs client-side encryption with age X25519 keys. Content
// is encrypted as a stream before chunking, so backends only ever see
// ciphertext; chunk boundaries fall on the ciphertext.
type Encryptor struct {
	recipient  age.Recipient
	identities []age.Identity
}

// NewEncryptor creates an Encryptor from an age recipient string and an
// optional identity file for decryption. Either side may be empty: an
// upload-only encryptor needs just the recipient, a download-only one just
// the identity file.
func NewEncryptor(recipient, identityFile string) (*Encryptor, error) {
	e := &Encryptor{}

	if recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient: %w", err)
		}
		e.recipient = r
	}

	if identityFile != "" {
		f, err := os.Open(identityFile)
		if err != nil {
			return nil, fmt.Errorf("opening identity file: %w", err)
		}
		defer f.Close()

		identities, err := age.ParseIdentities(f)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		if len(identities) == 0 {
			return nil, fmt.Errorf("no identities found in %s", identityFile)
		}
		e.identities = identities
	}

	return e, nil
}

// Encrypt reads plaintext from r and writes age-encrypted ciphertext to w.
func (e *Encryptor) Encrypt(r io.Reader, w io.Writer) error {
	if e.recipient == nil {
		return fmt.Errorf("no age recipient configured")
	}

	encWriter, err := age.Encrypt(w, e.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	return nil
}

// Decrypt reads age-encrypted ciphertext from r and writes plaintext to w.
func (e *Encryptor) Decrypt(r io.Reader, w io.Writer) error {
	if len(e.identities) == 0 {
		return fmt.Errorf("no age identities configured")
	}

	decReader, err := age.Decrypt(r, e.identities...)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}

	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}

	return nil
}

// EncryptFile encrypts src into dst, creating dst with 0600 permissions.
func (e *Encryptor) EncryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening plaintext: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating ciphertext file: %w", err)
	}
	defer out.Close()

	if err := e.Encrypt(in, out); err != nil {
		return err
	}
	return out.Close()
}

// DecryptFile decrypts src into dst, creating dst with 0600 permissions.
func (e *Encryptor) DecryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening ciphertext: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating plaintext file: %w", err)
	}
	defer out.Close()

	if err := e.Decrypt(in, out); err != nil {
		return err
	}
	return out.Close()
}
